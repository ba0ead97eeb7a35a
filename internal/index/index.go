// Package index implements the IndexParser (spec.md §4.6): expands a
// work-ready Watcher event into one or more JobRecords using a configured
// index_type and index_format template.
package index

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/boolpae/vrstt-dispatch/internal/jobrecord"
)

// Type is the configured inotify.index_type.
type Type string

// Recognized index types (spec.md §4.6).
const (
	TypeFilename Type = "filename"
	TypeFile     Type = "file"
	TypeList     Type = "list"
	TypePair     Type = "pair"
)

// ErrUnimplemented is returned for index_type "pair": the original source
// references this mode but never implements it (spec.md §9 Open Question),
// carried forward unimplemented rather than guessed at.
var ErrUnimplemented = errors.New("index: pair index_type is not implemented")

// Parser expands a watch.Event into JobRecords per the configured format.
type Parser struct {
	typ    Type
	format *regexp.Regexp
	fields []string // named capture groups in format, in order
	log    *logrus.Entry
}

// New compiles a template like "{call_id}_{rec_date}_{rec_time}.wav" into a
// named-capture regexp. Field names become Record.Metadata keys.
func New(typ Type, format string, log *logrus.Entry) (*Parser, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	re, fields, err := compileFormat(format)
	if err != nil {
		return nil, err
	}
	return &Parser{typ: typ, format: re, fields: fields, log: log.WithField("component", "index")}, nil
}

func compileFormat(format string) (*regexp.Regexp, []string, error) {
	var fields []string
	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(format) {
		if format[i] == '{' {
			j := strings.IndexByte(format[i:], '}')
			if j < 0 {
				return nil, nil, fmt.Errorf("index: unterminated field in format %q", format)
			}
			name := format[i+1 : i+j]
			fields = append(fields, name)
			b.WriteString(fmt.Sprintf("(?P<%s>[^_./]+)", name))
			i += j + 1
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(format[i])))
		i++
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, nil, err
	}
	return re, fields, nil
}

func (p *Parser) parseLine(line string) (map[string]string, error) {
	m := p.format.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("index: line %q does not match format", line)
	}
	out := make(map[string]string, len(p.fields))
	for _, name := range p.format.SubexpNames() {
		if name == "" {
			continue
		}
		out[name] = m[p.format.SubexpIndex(name)]
	}
	return out, nil
}

// Expand turns a (dir, filename) pair into one or more JobRecords.
// Parse failures for a single line are logged and skipped without aborting
// the batch (spec.md §4.6, §7).
func (p *Parser) Expand(dir, filename string) ([]*jobrecord.Record, error) {
	switch p.typ {
	case TypeFilename:
		return p.expandFilename(dir, filename)
	case TypeFile:
		return p.expandSidecarFile(dir, filename)
	case TypeList:
		return p.expandList(dir, filename)
	case TypePair:
		return nil, ErrUnimplemented
	default:
		return nil, fmt.Errorf("index: unknown index_type %q", p.typ)
	}
}

func (p *Parser) expandFilename(dir, filename string) ([]*jobrecord.Record, error) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	meta, err := p.parseLine(base)
	if err != nil {
		return nil, err
	}
	meta["filename"] = filename
	uri := "file://" + filepath.Join(dir, filename)
	return []*jobrecord.Record{{URI: uri, Metadata: meta, State: jobrecord.StatePending}}, nil
}

func (p *Parser) expandSidecarFile(dir, filename string) ([]*jobrecord.Record, error) {
	sidecar := filepath.Join(dir, strings.TrimSuffix(filename, filepath.Ext(filename))+".txt")
	f, err := os.Open(sidecar)
	if err != nil {
		return nil, fmt.Errorf("index: opening sidecar %q: %w", sidecar, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("index: sidecar %q is empty", sidecar)
	}
	meta, err := p.parseLine(sc.Text())
	if err != nil {
		return nil, err
	}
	meta["filename"] = filename
	uri := "file://" + filepath.Join(dir, filename)
	return []*jobrecord.Record{{URI: uri, Metadata: meta, State: jobrecord.StatePending}}, nil
}

func looksLikeURI(line string) bool {
	for _, scheme := range []string{"file://", "mount://", "http://", "https://", "ftp://", "ftps://", "sftp://"} {
		if strings.HasPrefix(line, scheme) {
			return true
		}
	}
	return false
}

func (p *Parser) expandList(dir, filename string) ([]*jobrecord.Record, error) {
	f, err := os.Open(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []*jobrecord.Record
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		meta, err := p.parseLine(line)
		if err != nil {
			// Bare-URI list lines (e.g. "http://h/1.wav") never match a
			// metadata format template; fall back to treating the whole
			// line as the uri rather than dropping the record, since a
			// plain list of URIs is the common case (spec.md §8 scenario 2).
			if looksLikeURI(line) {
				records = append(records, &jobrecord.Record{URI: line, Metadata: map[string]string{}, State: jobrecord.StatePending})
				continue
			}
			p.log.WithError(err).WithField("line", lineNo).Warn("index: skipping unparseable list line")
			continue
		}
		uri := meta["uri"]
		if uri == "" {
			uri = line
		}
		records = append(records, &jobrecord.Record{URI: uri, Metadata: meta, State: jobrecord.StatePending})
	}
	if err := sc.Err(); err != nil {
		return records, err
	}
	return records, nil
}
