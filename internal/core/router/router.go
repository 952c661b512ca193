// Package router holds the HTTP handlers of the /v1 API.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/cellsummary"
	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
	"github.com/mohammed-shakir/fogmap-area/internal/importer"
	"github.com/mohammed-shakir/fogmap-area/internal/journey"
	"github.com/mohammed-shakir/fogmap-area/internal/logger"
	"github.com/mohammed-shakir/fogmap-area/internal/service"
	"github.com/mohammed-shakir/fogmap-area/internal/store"
)

const protobufType = "application/x-protobuf"

// AreaService is what the handlers need from service.Service.
type AreaService interface {
	Import(ctx context.Context, r io.ReaderAt, size int64) (service.Import, error)
	Areas(ctx context.Context, bm *coverage.Bitmap, strategies ...area.Strategy) ([]service.AreaResult, error)
	Compare(bm *coverage.Bitmap) (area.Report, error)
	Cells(bm *coverage.Bitmap, res int, st area.Strategy) (cellsummary.Summary, error)
	PutJourney(ctx context.Context, h journey.Header, bm *coverage.Bitmap) (store.Stored, error)
	Journey(ctx context.Context, id string) (journey.Header, error)
	DeleteJourney(ctx context.Context, id string) error
	JourneyArea(ctx context.Context, id string, st area.Strategy) (service.AreaResult, error)
	JourneyCells(ctx context.Context, id string, res int, st area.Strategy) (cellsummary.Summary, error)
	DefaultStrategy() area.Strategy
}

var _ AreaService = (*service.Service)(nil)

type Options struct {
	MaxUploadBytes int64
	// H3Res is the cell resolution when a request names none.
	H3Res int
	// Upload wraps the two upload routes, typically with a rate limit.
	Upload func(http.Handler) http.Handler
}

type Handlers struct {
	log  *slog.Logger
	svc  AreaService
	opts Options
}

func New(l *slog.Logger, svc AreaService, opts Options) *Handlers {
	if l == nil {
		l = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	if opts.Upload == nil {
		opts.Upload = func(h http.Handler) http.Handler { return h }
	}
	return &Handlers{log: l, svc: svc, opts: opts}
}

// Mount registers the /v1 routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.With(h.opts.Upload).Post("/area", h.postArea)
		r.Route("/journeys/{id}", func(r chi.Router) {
			r.With(h.opts.Upload).Put("/", h.putJourney)
			r.Get("/", h.getJourney)
			r.Delete("/", h.deleteJourney)
			r.Get("/area", h.journeyArea)
			r.Get("/cells", h.journeyCells)
		})
	})
}

type areaResponse struct {
	Fingerprint string               `json:"fingerprint"`
	Blocks      int                  `json:"blocks"`
	Pixels      int64                `json:"pixels"`
	Results     []service.AreaResult `json:"results"`
	Warnings    []importer.Warning   `json:"warnings"`
	Report      *area.Report         `json:"report,omitempty"`
	Cells       *cellsummary.Summary `json:"cells,omitempty"`
}

// postArea computes the area of an uploaded sync archive without storing
// it. Query: strategy (repeatable, comma list or "all"), compare=true,
// cells=<res>.
func (h *Handlers) postArea(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	strategies, err := parseStrategies(q["strategy"])
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	up, err := h.readUpload(w, r)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	imp, err := h.svc.Import(r.Context(), bytes.NewReader(up.archive), int64(len(up.archive)))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	results, err := h.svc.Areas(r.Context(), imp.Bitmap, strategies...)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}

	resp := areaResponse{
		Fingerprint: fmt.Sprintf("%016x", imp.Fingerprint),
		Blocks:      imp.Bitmap.Len(),
		Pixels:      imp.Bitmap.Popcount(),
		Results:     results,
		Warnings:    imp.Warnings,
	}
	if resp.Warnings == nil {
		resp.Warnings = []importer.Warning{}
	}
	if b, _ := strconv.ParseBool(q.Get("compare")); b {
		rep, err := h.svc.Compare(imp.Bitmap)
		if err != nil {
			writeError(h.log, w, r, err)
			return
		}
		resp.Report = &rep
	}
	if q.Has("cells") {
		res, err := parseRes(q.Get("cells"), h.opts.H3Res)
		if err != nil {
			writeError(h.log, w, r, err)
			return
		}
		st := h.svc.DefaultStrategy()
		if len(strategies) > 0 {
			st = strategies[0]
		}
		sum, err := h.svc.Cells(imp.Bitmap, res, st)
		if err != nil {
			writeError(h.log, w, r, err)
			return
		}
		resp.Cells = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

type putResponse struct {
	Header      journey.Header     `json:"header"`
	Fingerprint string             `json:"fingerprint"`
	Bytes       int                `json:"stored_bytes"`
	Warnings    []importer.Warning `json:"warnings"`
}

// putJourney stores a journey from a multipart body with a "header" part
// (JSON, or protobuf when the part says application/x-protobuf) and an
// "archive" part.
func (h *Handlers) putJourney(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logger.WithJourney(r.Context(), id)

	up, err := h.readUpload(w, r)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if up.header == nil {
		writeError(h.log, w, r, badRequest("multipart part %q is required", "header"))
		return
	}
	hdr, err := decodeHeader(up.header, up.headerType)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	switch hdr.ID {
	case "":
		hdr.ID = id
	case id:
	default:
		writeError(h.log, w, r, badRequest("header id %q does not match path id %q", hdr.ID, id))
		return
	}

	bm := coverage.Empty()
	var warns []importer.Warning
	if up.archive != nil {
		imp, err := h.svc.Import(ctx, bytes.NewReader(up.archive), int64(len(up.archive)))
		if err != nil {
			writeError(h.log, w, r, err)
			return
		}
		bm, warns = imp.Bitmap, imp.Warnings
	}
	st, err := h.svc.PutJourney(ctx, hdr, bm)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if warns == nil {
		warns = []importer.Warning{}
	}
	writeJSON(w, http.StatusOK, putResponse{
		Header:      st.Header,
		Fingerprint: fmt.Sprintf("%016x", st.Fingerprint),
		Bytes:       st.Bytes,
		Warnings:    warns,
	})
}

// getJourney returns the header as JSON, or in protobuf wire format when
// the client accepts application/x-protobuf.
func (h *Handlers) getJourney(w http.ResponseWriter, r *http.Request) {
	hdr, err := h.svc.Journey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), protobufType) {
		b, err := journey.MarshalHeader(hdr)
		if err != nil {
			writeError(h.log, w, r, err)
			return
		}
		w.Header().Set("Content-Type", protobufType)
		_, _ = w.Write(b)
		return
	}
	writeJSON(w, http.StatusOK, hdr)
}

func (h *Handlers) deleteJourney(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteJourney(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) journeyArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.strategy(r.URL.Query().Get("strategy"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	ctx := logger.WithStrategy(logger.WithJourney(r.Context(), id), st.String())
	res, err := h.svc.JourneyArea(ctx, id, st)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// journeyCells: query res (default from config), strategy and an optional
// parent resolution to roll up to.
func (h *Handlers) journeyCells(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := parseRes(q.Get("res"), h.opts.H3Res)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	st, err := h.strategy(q.Get("strategy"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	sum, err := h.svc.JourneyCells(r.Context(), chi.URLParam(r, "id"), res, st)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if q.Has("parent") {
		parent, err := parseRes(q.Get("parent"), res)
		if err != nil {
			writeError(h.log, w, r, err)
			return
		}
		if sum, err = cellsummary.Rollup(sum, parent); err != nil {
			writeError(h.log, w, r, badRequest("%v", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) strategy(name string) (area.Strategy, error) {
	if strings.TrimSpace(name) == "" {
		return h.svc.DefaultStrategy(), nil
	}
	return area.ParseStrategy(name)
}

type upload struct {
	archive    []byte
	header     []byte
	headerType string
}

// readUpload accepts either a raw archive body or a multipart form with
// "archive" and "header" parts. The whole body is capped at
// MaxUploadBytes.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	mt, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		b, err := io.ReadAll(body)
		if err != nil {
			return upload{}, err
		}
		if len(b) == 0 {
			return upload{}, badRequest("empty request body")
		}
		return upload{archive: b}, nil
	}

	var up upload
	mr := multipart.NewReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return upload{}, err
			}
			return upload{}, badRequest("multipart: %v", err)
		}
		switch part.FormName() {
		case "archive":
			up.archive, err = io.ReadAll(part)
		case "header":
			up.headerType = part.Header.Get("Content-Type")
			up.header, err = io.ReadAll(part)
		}
		_ = part.Close()
		if err != nil {
			return upload{}, err
		}
	}
	if up.archive == nil && up.header == nil {
		return upload{}, badRequest("multipart body has neither %q nor %q", "archive", "header")
	}
	return up, nil
}

func decodeHeader(b []byte, contentType string) (journey.Header, error) {
	if mt, _, _ := mime.ParseMediaType(contentType); mt == protobufType {
		return journey.UnmarshalHeader(b)
	}
	var hdr journey.Header
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&hdr); err != nil {
		var uk *journey.UnsupportedKindError
		var ve *journey.ValidationError
		if errors.As(err, &uk) || errors.As(err, &ve) {
			return journey.Header{}, err
		}
		return journey.Header{}, badRequest("header: %v", err)
	}
	return hdr, nil
}

// parseStrategies flattens repeated and comma separated values. An empty
// list means the service default; "all" means every strategy.
func parseStrategies(raw []string) ([]area.Strategy, error) {
	var out []area.Strategy
	for _, v := range raw {
		for name := range strings.SplitSeq(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				return area.AllStrategies(), nil
			}
			s, err := area.ParseStrategy(name)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func parseRes(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 15 {
		return 0, badRequest("invalid H3 resolution %q (must be 0..15)", raw)
	}
	return n, nil
}
