package broker

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Status is the first-line token of a reply (spec.md §4.3, §6.4).
type Status string

// SUCCESS and the well-known error codes from spec.md §7.
const (
	StatusSuccess        Status = "SUCCESS"
	StatusDownloadFailed Status = "E10200"
	StatusFileMissing    Status = "E10100"
	StatusDecodingFailed Status = "E20400"
	// StatusUnauthorized extends the Exxxxx taxonomy for a REST-backend
	// token rejection surfaced through a broker reply, letting the
	// dispatcher's invalidate-and-retry-once path (spec.md §4.4, §4.7) key
	// off the same Reply.Status field as every other outcome.
	StatusUnauthorized Status = "E10401"
)

// Reply is a parsed response per the framing convention in spec.md §4.3/§6.4:
//
//	<STATUS>\n
//	<server-name>\n
//	[<bytes>\n]
//	<payload-lines>
//
// Stereo handlers join two payload sections with the literal "||".
type Reply struct {
	Status     Status
	ServerName string
	ByteCount  int64 // -1 if the optional bytes line was absent
	Payload    string
}

// ParseReply decodes raw broker reply bytes into a Reply.
func ParseReply(raw []byte) (Reply, error) {
	statusEnd := bytes.IndexByte(raw, '\n')
	if statusEnd < 0 {
		return Reply{}, fmt.Errorf("broker: reply missing status line")
	}
	status := Status(strings.TrimSpace(string(raw[:statusEnd])))
	rest := raw[statusEnd+1:]

	serverEnd := bytes.IndexByte(rest, '\n')
	if serverEnd < 0 {
		return Reply{}, fmt.Errorf("broker: reply missing server-name line")
	}
	serverName := strings.TrimSpace(string(rest[:serverEnd]))
	rest = rest[serverEnd+1:]

	byteCount := int64(-1)
	if thirdEnd := bytes.IndexByte(rest, '\n'); thirdEnd >= 0 {
		candidate := strings.TrimSpace(string(rest[:thirdEnd]))
		if n, err := strconv.ParseInt(candidate, 10, 64); err == nil {
			byteCount = n
			rest = rest[thirdEnd+1:]
		}
	}

	return Reply{Status: status, ServerName: serverName, ByteCount: byteCount, Payload: string(rest)}, nil
}

// StereoPayloads splits a reply payload on the literal "||" separator used
// for stereo results (spec.md §4.3, §6.4).
func StereoPayloads(payload string) (left, right string, ok bool) {
	parts := strings.SplitN(payload, "||", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// StatusOf extracts just the status token from raw reply bytes, for callers
// (e.g. a metrics wrapper) that only need the outcome label and not a full
// ParseReply.
func StatusOf(raw []byte) string {
	if end := bytes.IndexByte(raw, '\n'); end >= 0 {
		return strings.TrimSpace(string(raw[:end]))
	}
	return strings.TrimSpace(string(raw))
}

// FormatReply renders status/serverName/payload back into wire bytes, used
// by WorkerRuntime/JobHandlers to build their reply.
func FormatReply(status Status, serverName string, byteCount int64, payload string) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(status))
	buf.WriteByte('\n')
	buf.WriteString(serverName)
	buf.WriteByte('\n')
	if byteCount >= 0 {
		buf.WriteString(strconv.FormatInt(byteCount, 10))
		buf.WriteByte('\n')
	}
	buf.WriteString(payload)
	return buf.Bytes()
}
