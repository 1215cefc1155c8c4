// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// Package ssserver exposes a peer's share store over the HTTP wire
// protocol.
package ssserver

import (
	"encoding/base64"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/sharestore"
	"github.com/gridvault/gridvault/pkg/sharestore/ssclient"
)

// Error is the default ssserver errs class.
var Error = errs.Class("sharestore server error")

// Server serves a peer's share store.
type Server struct {
	log *zap.Logger
	db  *sharestore.DB
	mux *http.ServeMux
}

// New creates a wire protocol server over db.
func New(log *zap.Logger, db *sharestore.DB) *Server {
	server := &Server{log: log, db: db}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/shares/", server.handleShare)
	mux.HandleFunc("/v1/slots/", server.handleSlot)
	server.mux = mux
	return server
}

// ServeHTTP implements http.Handler.
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	server.mux.ServeHTTP(w, r)
}

// writeError maps store errors onto protocol status codes.
func (server *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case sharestore.ErrNotFound.Has(err):
		w.WriteHeader(http.StatusNotFound)
	case sharestore.ErrOutOfSpace.Has(err):
		w.WriteHeader(http.StatusInsufficientStorage)
	case sharestore.ErrVersionConflict.Has(err):
		w.WriteHeader(http.StatusConflict)
	case sharestore.ErrUnauthorized.Has(err):
		w.WriteHeader(http.StatusForbidden)
	default:
		server.log.Error("share store request failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// handleShare serves /v1/shares/{index}/{num}.
func (server *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/shares/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	index, err := grid.StorageIndexFromString(parts[0])
	if err != nil {
		http.Error(w, "bad storage index", http.StatusBadRequest)
		return
	}
	num, err := strconv.Atoi(parts[1])
	if err != nil || num < 0 || num >= grid.MaxTotalShares {
		http.Error(w, "bad share number", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch r.Method {
	case http.MethodPut:
		data, err := ioutil.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if err := server.db.PutShare(ctx, index, num, data); err != nil {
			server.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		data, err := server.db.GetShare(ctx, index, num)
		if err != nil {
			server.writeError(w, err)
			return
		}
		_, _ = w.Write(data)

	case http.MethodHead:
		has, err := server.db.HasShare(ctx, index, num)
		if err != nil {
			server.writeError(w, err)
			return
		}
		if !has {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		if err := server.db.DeleteShare(ctx, index, num); err != nil {
			server.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSlot serves /v1/slots/{index}.
func (server *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/slots/")
	index, err := grid.StorageIndexFromString(rest)
	if err != nil {
		http.Error(w, "bad storage index", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		slot, err := server.db.GetSlot(ctx, index)
		if err != nil {
			server.writeError(w, err)
			return
		}
		// the stored write enabler is never revealed
		w.Header().Set(ssclient.HeaderSlotVersion, strconv.FormatUint(slot.Version, 10))
		_, _ = w.Write(slot.Payload)

	case http.MethodPut:
		expected, err := strconv.ParseUint(r.Header.Get(ssclient.HeaderExpectedVersion), 10, 64)
		if err != nil {
			http.Error(w, "bad expected version", http.StatusBadRequest)
			return
		}
		version, err := strconv.ParseUint(r.Header.Get(ssclient.HeaderSlotVersion), 10, 64)
		if err != nil {
			http.Error(w, "bad slot version", http.StatusBadRequest)
			return
		}
		enabler, err := base64.StdEncoding.DecodeString(r.Header.Get(ssclient.HeaderWriteEnabler))
		if err != nil {
			http.Error(w, "bad write enabler", http.StatusBadRequest)
			return
		}
		payload, err := ioutil.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		current, err := server.db.PutSlot(ctx, index, expected, sharestore.Slot{
			Version: version,
			Enabler: enabler,
			Payload: payload,
		})
		w.Header().Set(ssclient.HeaderSlotVersion, strconv.FormatUint(current, 10))
		if err != nil {
			server.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
