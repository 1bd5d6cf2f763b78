package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/upb/portal-gateway/middleware"
	"github.com/upb/portal-gateway/utils"
	"go.uber.org/zap"
)

// Forwarder proxies authorized requests to the backend service. The session
// cookie is replaced by an Authorization: Bearer header carrying the token
// verified by AuthMiddleware.
type Forwarder struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *zap.Logger
}

// NewForwarder creates a Forwarder for target. timeout bounds the wait for
// backend response headers.
func NewForwarder(target *url.URL, timeout time.Duration, logger *zap.Logger) *Forwarder {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	f := &Forwarder{target: target, logger: logger}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:      f.rewrite,
		Transport:    transport,
		ErrorHandler: f.handleError,
	}
	return f
}

// ServeHTTP forwards the request
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.proxy.ServeHTTP(w, r)
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	ctx := pr.In.Context()

	pr.SetURL(f.target)
	pr.SetXForwarded()
	pr.Out.Header.Del("Authorization")
	stripSessionCookie(pr.Out)

	if token := middleware.GetAccessTokenFromContext(ctx); token != "" {
		pr.Out.Header.Set("Authorization", "Bearer "+token)
	}
	if requestID := middleware.GetRequestIDFromContext(ctx); requestID != "" {
		pr.Out.Header.Set(middleware.RequestIDHeader, requestID)
	}
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, context.Canceled) {
		f.logger.Debug("client closed request before backend responded",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))
		return
	}

	f.logger.Error("backend request failed",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	_ = utils.WriteBadGateway(w, "Backend unavailable")
}

// stripSessionCookie removes the session cookie and keeps any others.
func stripSessionCookie(r *http.Request) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != middleware.SessionCookieName {
			r.AddCookie(c)
		}
	}
}
