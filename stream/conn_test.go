package stream

import (
	"strings"
	"testing"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/mock"
	"github.com/datasift/datasift-go/test"
)

func TestStatusRetryable(t *testing.T) {
	for code, want := range map[int]bool{
		301: true,
		400: false,
		401: false,
		404: false,
		420: true,
		429: true,
		500: true,
		503: true,
	} {
		if got := (&statusError{code: code}).retryable(); got != want {
			t.Errorf("retryable(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	tests := map[string]string{
		`{"message":"Hash not found"}`:     "Hash not found",
		`{"error":"Authorization failed"}`: "Authorization failed",
		`{"message":"m","error":"e"}`:      "m",
		"  plain text  ":                   "plain text",
		"":                                 "",
	}
	for body, want := range tests {
		test.MustBe(t, want, errorMessage(strings.NewReader(body)), body)
	}
}

func TestRequest(t *testing.T) {
	user := &datasift.User{Username: "someone", APIKey: "secret", UserAgent: "agent/1", StreamHost: "stream.example.com"}
	c, err := NewMultiConsumer(user, []string{"a", "b"}, &mock.RecordingHandler{})
	test.ErrNil(t, err, "NewMultiConsumer")

	want := "GET /multi?statuses=true&hashes=a,b HTTP/1.1\r\n" +
		"Host: stream.example.com\r\n" +
		"User-Agent: agent/1\r\n" +
		"Auth: someone:secret\r\n" +
		"Accept: */*\r\n" +
		"\r\n"
	test.MustBe(t, want, c.request())
}

func TestAddr(t *testing.T) {
	tests := []struct {
		host string
		ssl  bool
		want string
	}{
		{host: "stream.example.com", ssl: true, want: "stream.example.com:443"},
		{host: "stream.example.com", ssl: false, want: "stream.example.com:80"},
		{host: "127.0.0.1:8080", ssl: true, want: "127.0.0.1:8080"},
		{host: "", ssl: true, want: datasift.DefaultStreamHost + ":443"},
	}
	for _, tst := range tests {
		user := &datasift.User{Username: "u", APIKey: "k", StreamHost: tst.host, UseSSL: tst.ssl}
		c, err := NewConsumer(user, Hash("abc"), &mock.RecordingHandler{})
		test.ErrNil(t, err, "NewConsumer")
		test.MustBe(t, tst.want, c.addr(), tst.host)
	}
}

func TestTLSConfigServerName(t *testing.T) {
	user := &datasift.User{Username: "u", APIKey: "k", StreamHost: "stream.example.com:8443", UseSSL: true}
	c, err := NewConsumer(user, Hash("abc"), &mock.RecordingHandler{})
	test.ErrNil(t, err, "NewConsumer")
	test.MustBe(t, "stream.example.com", c.tlsConfigFor(c.host()).ServerName)
}
