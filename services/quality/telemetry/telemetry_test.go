// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSink_RecordTraceWrite(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())
	sink.RecordTraceWrite(true)
	sink.RecordTraceWrite(true)
	sink.RecordTraceWrite(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.TraceRecordsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.TraceWriteFailures))
}

func TestSink_RecordVerification(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())
	sink.RecordVerification(true)
	sink.RecordVerification(false)
	sink.RecordVerification(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.VerificationsTotal.WithLabelValues("pass")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.VerificationsTotal.WithLabelValues("fail")))
}

func TestSink_NilIsSafe(t *testing.T) {
	var sink *Sink
	assert.NotPanics(t, func() {
		sink.RecordTraceWrite(true)
		sink.RecordSkippedLines(3)
		sink.RecordVerification(false)
		sink.RecordHallucination()
		sink.RecordRollup("ok")
		sink.ObservePipeline(0.01)
	})
}

func TestSink_SkippedLinesIgnoresNonPositive(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())
	sink.RecordSkippedLines(0)
	sink.RecordSkippedLines(-2)
	sink.RecordSkippedLines(4)

	assert.Equal(t, 4.0, testutil.ToFloat64(sink.TraceLinesSkipped))
}
