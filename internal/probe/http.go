package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer sends requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProbe sends a HEAD request, retrying once with GET when the server
// answers 405. 2xx and 3xx count as up.
type HTTPProbe struct {
	Client HTTPDoer
}

func NewHTTPProbe(c HTTPDoer) *HTTPProbe {
	if c == nil {
		c = &http.Client{
			// report redirects instead of following them
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	return &HTTPProbe{Client: c}
}

func (p *HTTPProbe) Execute(ctx context.Context, target string, spec Spec) Result {
	url := targetURL(target, spec.Port)

	start := time.Now()
	resp, err := p.do(ctx, http.MethodHead, url)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		resp, err = p.do(ctx, http.MethodGet, url)
	}
	elapsed := time.Since(start)
	if err != nil {
		class, reason := Classify(ctx, err)
		if class == ClassNetwork && reason == ReasonUnreachable {
			reason = ReasonHTTPError
		}
		return Failure(class, reason, err.Error(), elapsed)
	}

	payload := &HTTPPayload{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		res := Failure(ClassNetwork, ReasonHTTPStatus, resp.Status, elapsed)
		res.HTTP = payload
		return res
	}
	res := Success(elapsed)
	res.HTTP = payload
	return res
}

func (p *HTTPProbe) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, &Error{Class: ClassInput, Reason: ReasonInvalidSpec, Err: err}
	}
	req.Header.Set("User-Agent", "netprobe/1")
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return resp, nil
}

// targetURL leaves full URLs alone and otherwise builds one from the host and
// port: 80 is plain http, anything else https.
func targetURL(target string, port int) string {
	if strings.Contains(target, "://") {
		return target
	}
	scheme := "https"
	if port == 80 {
		scheme = "http"
	}
	if port == 80 || port == 443 {
		if strings.Contains(target, ":") && net.ParseIP(target) != nil {
			return scheme + "://[" + target + "]"
		}
		return scheme + "://" + target
	}
	return scheme + "://" + net.JoinHostPort(target, strconv.Itoa(port))
}
