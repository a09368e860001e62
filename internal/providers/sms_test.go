package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relief-service/internal/logging"
	"relief-service/internal/models"
)

func TestNewSMSValidatesNumbers(t *testing.T) {
	_, err := NewSMS(SMSConfig{AccountSID: "AC1", AuthToken: "x", FromNumber: "+100"}, logging.Discard())
	assert.Error(t, err)
	_, err = NewSMS(SMSConfig{AccountSID: "AC1", AuthToken: "x", FromNumber: "+100", ToNumbers: []string{"9876"}}, logging.Discard())
	assert.Error(t, err)
}

func TestSMSRelay(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		got[r.PostForm.Get("To")] = r.PostForm.Get("Body")
		mu.Unlock()
		if r.PostForm.Get("To") == "+911" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sms, err := NewSMS(SMSConfig{
		AccountSID:    "AC1",
		AuthToken:     "secret",
		FromNumber:    "+100",
		ToNumbers:     []string{"+919800000000", "+911"},
		RetryAttempts: 1,
		BaseURL:       srv.URL,
	}, logging.Discard())
	require.NoError(t, err)

	d, e := disaster()
	err = sms.RelayEscalation(context.Background(), d, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+911")
	assert.NotContains(t, err.Error(), "+9198")
	assert.Contains(t, got["+919800000000"], "high cyclone at Puri, Odisha")
}

type stubRelay struct {
	calls int
	err   error
}

func (s *stubRelay) RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error {
	s.calls++
	return s.err
}

func TestFanoutRelaysToAll(t *testing.T) {
	boom := errors.New("down")
	a, b := &stubRelay{err: boom}, &stubRelay{}
	d, e := disaster()
	err := Fanout{a, b}.RelayEscalation(context.Background(), d, e)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
