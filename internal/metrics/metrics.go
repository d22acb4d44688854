// Package metrics contains the prometheus metrics of imap-attachments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CharsetConversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapattachments_charset_conversions_total",
			Help: "Charset conversions, by the strategy that produced the result.",
		},
		[]string{"strategy"},
	)

	AttachmentsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imapattachments_attachments_saved_total",
			Help: "Attachments written to disk.",
		},
	)

	AttachmentSaveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imapattachments_attachment_save_errors_total",
			Help: "Attachments that could not be written to disk.",
		},
	)

	AttachmentFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapattachments_attachment_fetches_total",
			Help: "Attachment data fetches from the IMAP server, by result.",
		},
		[]string{"result"},
	)
)
