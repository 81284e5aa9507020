package spectate

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/platform/metrics"
)

const maxFeedBody = 10 << 20

// Handler accepts GSI pushes over HTTP and feeds them to a Resolver.
type Handler struct {
	resolver *Resolver
	token    string
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewHandler creates the feed endpoint. An empty token accepts every push.
func NewHandler(r *Resolver, token string, m *metrics.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{resolver: r, token: token, metrics: m, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFeedBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	feed, err := ParseGSI(body)
	if err != nil {
		h.log.Warn("malformed feed payload", "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if h.token != "" && feed.Token != h.token {
		h.log.Warn("feed token mismatch", "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.metrics.IncFeedEvents()
	h.resolver.Ingest(feed)

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}
