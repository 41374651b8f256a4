// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Error codes returned on the appservice API, following the Matrix
// convention of namespaced errcodes.
const (
	errcodeUnauthorized = "COM.AIKU.APPSERVICE_UNAUTHORIZED"
	errcodeForbidden    = "COM.AIKU.APPSERVICE_FORBIDDEN"
	errcodeNotFound     = "COM.AIKU.APPSERVICE_NOT_FOUND"
)

// txnIDCacheSize bounds the remembered transaction ID window used to
// absorb homeserver retries of already acknowledged transactions.
const txnIDCacheSize = 128

// Server is the inbound appservice transport: the homeserver pushes
// transactions and queries aliases here. Authentication happens in a
// middleware before any core entry point; the core never inspects
// credentials.
type Server struct {
	dispatcher  *Dispatcher
	provisioner *Provisioner
	hsToken     string
	txnIDs      *appservice.TransactionIDCache
	log         zerolog.Logger
	srv         *http.Server
}

// NewServer wires the dispatcher and provisioner behind the appservice
// HTTP routes. hsToken is the homeserver token from the registration
// file that inbound requests must present.
func NewServer(dispatcher *Dispatcher, provisioner *Provisioner, hsToken string, log zerolog.Logger) *Server {
	s := &Server{
		dispatcher:  dispatcher,
		provisioner: provisioner,
		hsToken:     hsToken,
		txnIDs:      appservice.NewTransactionIDCache(txnIDCacheSize),
		log:         log.With().Str("component", "transport").Logger(),
	}
	return s
}

// Handler builds the route table. Both the /_matrix/app/v1 paths and
// the legacy unprefixed ones are served; some homeservers
// still push to the legacy paths. The alias patterns allow "/" because
// section names may contain one.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/transactions/{txnID}", s.authorized(s.putTransaction)).Methods(http.MethodPut)
	r.HandleFunc("/_matrix/app/v1/transactions/{txnID}", s.authorized(s.putTransaction)).Methods(http.MethodPut)
	r.HandleFunc("/rooms/{roomAlias:.+}", s.authorized(s.getRoomAlias)).Methods(http.MethodGet)
	r.HandleFunc("/_matrix/app/v1/rooms/{roomAlias:.+}", s.authorized(s.getRoomAlias)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the transport until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, hostname string, port uint16) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", hostname, port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("Appservice listening")
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// requestToken extracts the access token from the legacy access_token
// query parameter or an Authorization bearer header.
func requestToken(r *http.Request) string {
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authorized enforces the homeserver token before the wrapped handler
// runs. A missing token is unauthorized, a wrong one is forbidden.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch token := requestToken(r); token {
		case "":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errcode": errcodeUnauthorized})
		case s.hsToken:
			next(w, r)
		default:
			s.log.Warn().Str("path", r.URL.Path).Msg("Rejected request with wrong homeserver token")
			writeJSON(w, http.StatusForbidden, map[string]string{"errcode": errcodeForbidden})
		}
	}
}

// transaction is the wire shape of a pushed transaction body.
type transaction struct {
	Events []*event.Event `json:"events"`
}

// putTransaction handles one pushed batch of events. The push protocol
// has no per-event failure signaling: once the body decodes, the
// response is always an empty 200 acknowledgement. Retries of already
// acknowledged transaction IDs within the dedup window are acked
// without running side effects again.
func (s *Server) putTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := mux.Vars(r)["txnID"]
	if s.txnIDs.IsProcessed(txnID) {
		s.log.Debug().Str("txn_id", txnID).Msg("Ignoring duplicate transaction")
		transactionsDeduped.Inc()
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	var txn transaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		s.log.Warn().Err(err).Str("txn_id", txnID).Msg("Failed to decode transaction body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"errcode": "M_NOT_JSON"})
		return
	}
	for _, evt := range txn.Events {
		evt.Type.Class = evt.Type.GuessClass()
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			// Unknown event types stay raw and fall through the
			// dispatcher's default case.
			s.log.Trace().Err(err).Str("event_type", evt.Type.String()).Msg("Could not parse event content")
		}
	}
	s.dispatcher.HandleTransaction(r.Context(), txnID, txn.Events)
	s.txnIDs.MarkProcessed(txnID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// getRoomAlias handles a directory query for an alias in our
// namespace, provisioning the comment room on demand. Every failure
// maps to a 404: the distinction between a foreign alias, an
// unregistered site and an upstream error only matters in the logs.
func (s *Server) getRoomAlias(w http.ResponseWriter, r *http.Request) {
	alias := id.RoomAlias(mux.Vars(r)["roomAlias"])
	err := s.provisioner.ProvisionCommentRoom(r.Context(), alias)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Debug().Str("alias", string(alias)).Err(err).Msg("Alias query not satisfied")
		} else {
			s.log.Error().Str("alias", string(alias)).Err(err).Msg("Failed to provision comment room")
		}
		aliasQueries.WithLabelValues("not_found").Inc()
		writeJSON(w, http.StatusNotFound, map[string]string{"errcode": errcodeNotFound})
		return
	}
	aliasQueries.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, struct{}{})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
