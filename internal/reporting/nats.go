package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"keytrace/internal/detector"
	"keytrace/internal/logging"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const DefaultSubject = "keytrace.detections"

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSReporter publishes KeyloggerLog records on a NATS subject.
type NATSReporter struct {
	conn     *nats.Conn
	pub      msgPublisher
	subject  string
	hostname string
	logger   *logrus.Logger
}

func NewNATSReporter(url, subject, hostname string) (*NATSReporter, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("keytrace"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	r := newNATSReporter(conn, subject, hostname)
	r.conn = conn
	return r, nil
}

func newNATSReporter(pub msgPublisher, subject, hostname string) *NATSReporter {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSReporter{
		pub:      pub,
		subject:  subject,
		hostname: hostname,
		logger:   logging.GetLogger(),
	}
}

func (nr *NATSReporter) GetName() string { return "nats" }

func (nr *NATSReporter) Report(ctx context.Context, result detector.DetectionResult) bool {
	if ctx.Err() != nil {
		return false
	}
	if nr.conn != nil && !nr.conn.IsConnected() {
		nr.logger.WithField("subject", nr.subject).Error("NATS connection not available")
		return false
	}

	data, err := json.Marshal(NewKeyloggerLog(result, nr.hostname))
	if err != nil {
		nr.logger.WithError(err).Error("Failed to marshal detection log")
		return false
	}

	headers := nats.Header{}
	headers.Set("x-run-id", result.RunID)
	headers.Set("x-pid", strconv.Itoa(result.ProcessID))
	headers.Set("x-detected", strconv.FormatBool(result.Detected))
	headers.Set("x-timestamp", result.DetectedAt.UTC().Format(time.RFC3339))

	msg := &nats.Msg{
		Subject: nr.subject,
		Data:    data,
		Header:  headers,
	}
	if err := nr.pub.PublishMsg(msg); err != nil {
		nr.logger.WithFields(logrus.Fields{
			"subject": nr.subject,
			"pid":     result.ProcessID,
		}).WithError(err).Error("Failed to publish detection")
		return false
	}

	nr.logger.WithFields(logrus.Fields{
		"subject": nr.subject,
		"pid":     result.ProcessID,
		"run_id":  result.RunID,
	}).Info("Published detection")
	return true
}

func (nr *NATSReporter) Close() error {
	if nr.conn == nil {
		return nil
	}
	return nr.conn.Drain()
}
