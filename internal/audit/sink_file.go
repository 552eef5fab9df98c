package audit

import "context"

// FileSink is the "file" sink kind: a primary destination rather than a
// fallback, for deployments that ship audit events to disk for a local
// log-shipper to pick up instead of calling out to a SIEM directly. It
// reuses FallbackLogger's rotating-NDJSON writer, the same format every
// other sink's own fallback path already produces.
type FileSink struct {
	name   string
	writer *FallbackLogger
}

// NewFileSink constructs a FileSink named name, writing rotating NDJSON
// files under dir.
func NewFileSink(name, dir string) *FileSink {
	if name == "" {
		name = "file"
	}
	return &FileSink{name: name, writer: NewFallbackLogger(dir, name, 0)}
}

func (s *FileSink) Name() string { return s.name }

func (s *FileSink) Send(ctx context.Context, events []Event) error {
	return s.writer.Write(events)
}

func (s *FileSink) HealthCheck(ctx context.Context) bool { return true }
