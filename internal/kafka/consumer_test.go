package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/apperr"
	"relief-service/internal/escalation"
	"relief-service/internal/logging"
	"relief-service/internal/models"
)

type fakeReporter struct {
	reports []escalation.Report
	err     error
}

func (f *fakeReporter) Report(ctx context.Context, r escalation.Report) (escalation.Result, error) {
	if f.err != nil {
		return escalation.Result{}, f.err
	}
	f.reports = append(f.reports, r)
	return escalation.Result{Disaster: models.Disaster{ID: "d1", Severity: r.Severity}}, nil
}

func TestDecode(t *testing.T) {
	r, err := decode([]byte(`{"type":"earthquake","severity":"high","location":{"city":"Shimla","state":"Himachal Pradesh","lat":31.1,"lng":77.17},"confidence":0.82}`))
	require.NoError(t, err)
	assert.Equal(t, models.SourceAI, r.Source)
	assert.Equal(t, models.SeverityHigh, r.Severity)
	require.NotNil(t, r.Location.Lat)
	assert.Equal(t, 31.1, *r.Location.Lat)
	assert.Equal(t, 0.82, r.Confidence)

	r, err = decode([]byte(`{"type":"flood","severity":"low","source":"external","location":{"city":"Guwahati","state":"Assam"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.SourceExternal, r.Source)

	_, err = decode([]byte(`{"type":"flood","source":"manual"}`))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = decode([]byte(`{`))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestHandle(t *testing.T) {
	rep := &fakeReporter{}
	c := &Consumer{reporter: rep, logger: logging.Discard()}

	require.NoError(t, c.handle(context.Background(), []byte(`{"type":"fire","severity":"medium","location":{"city":"Nainital","state":"Uttarakhand"}}`)))
	require.Len(t, rep.reports, 1)
	assert.Equal(t, "fire", rep.reports[0].Type)

	rep.err = apperr.Validation("type is required")
	err := c.handle(context.Background(), []byte(`{"severity":"medium"}`))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
