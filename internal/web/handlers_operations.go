package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/logging"
)

// EntityResponse is one entry of the entity catalog.
type EntityResponse struct {
	Type      string            `json:"type"`
	Label     string            `json:"label"`
	Group     string            `json:"group"`
	UniqueKey []string          `json:"uniqueKey"`
	Fields    []FieldResponse   `json:"fields"`
	Renames   map[string]string `json:"renames,omitempty"`
}

// FieldResponse describes one field with its kind spelled out.
type FieldResponse struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Kind  string `json:"kind"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	defs := s.service.Entities()
	out := make([]EntityResponse, len(defs))
	for i, d := range defs {
		fields := make([]FieldResponse, len(d.Fields))
		for j, f := range d.Fields {
			fields[j] = FieldResponse{Name: f.Name, Label: f.Label, Kind: f.Kind.String()}
		}
		out[i] = EntityResponse{
			Type:      d.Type,
			Label:     d.Label,
			Group:     d.Group,
			UniqueKey: d.UniqueKey,
			Fields:    fields,
			Renames:   d.Renames,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStartImport accepts a multipart upload and starts the import in the
// background. The file is read whole; the decoder works on bounded batches.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")

	maxSize := s.cfg.Operation.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: limit %d bytes", errFileTooLarge, maxSize))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: read upload: %v", errBadRequest, err))
		return
	}

	req := core.ImportRequest{
		EntityType: entityType,
		FileName:   header.Filename,
		Data:       data,
		Format:     core.Format(strings.ToLower(r.FormValue("format"))),
		Encoding:   r.FormValue("encoding"),
	}

	if v := r.FormValue("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, r, fmt.Errorf("%w: chunk_size %q", errBadRequest, v))
			return
		}
		req.ChunkSize = n
	}
	if req.SkipDuplicates, err = formBool(r, "skip_duplicates"); err != nil {
		respondError(w, r, err)
		return
	}
	if req.UpdateExisting, err = formBool(r, "update_existing"); err != nil {
		respondError(w, r, err)
		return
	}
	if mappingJSON := r.FormValue("mapping"); mappingJSON != "" {
		if err := json.Unmarshal([]byte(mappingJSON), &req.Mapping); err != nil {
			respondError(w, r, fmt.Errorf("%w: mapping: %v", errBadRequest, err))
			return
		}
	}

	id, err := s.service.StartImport(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), logging.FieldOperationID, id, logging.FieldEntity, entityType).
		Info("import accepted", "file", header.Filename, "bytes", len(data))
	writeJSON(w, http.StatusAccepted, map[string]string{"operationId": id})
}

func formBool(r *http.Request, name string) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s %q", errBadRequest, name, v)
	}
	return b, nil
}

// handleImportResult blocks until the import finishes. Collecting the
// result ends the operation.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.ImportResult(r.Context(), chi.URLParam(r, "operationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
	var spec core.ExportSpecification
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&spec); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	id, err := s.service.StartExport(r.Context(), spec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"operationId": id,
		"downloadUrl": "/api/exports/" + id + "/download",
	})
}

// handleExportDownload waits for the export and streams the artifact.
func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportResult(r.Context(), chi.URLParam(r, "operationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeArtifact(w, result.Descriptor.Filename, result.Descriptor.ContentType, result.Artifact.Data)
}

func writeArtifact(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// OperationResponse is a progress snapshot with its percentage.
type OperationResponse struct {
	core.OperationProgress
	Percent int `json:"percent"`
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Progress(chi.URLParam(r, "operationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{OperationProgress: p, Percent: p.Percent()})
}

// handleOperationProgress streams progress snapshots via Server-Sent Events
// until the operation reaches a terminal state or the client goes away.
func (s *Server) handleOperationProgress(w http.ResponseWriter, r *http.Request) {
	ch, stop, err := s.service.Watch(chi.URLParam(r, "operationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer stop()

	sse, ok := startSSE(w)
	if !ok {
		respondErrorJSON(w, core.MapError(errors.New("streaming not supported")), http.StatusInternalServerError)
		return
	}

	for {
		select {
		case p, ok := <-ch:
			if !ok {
				sse.event("complete", 0, struct{}{})
				return
			}
			sse.event("progress", p.Percent(), OperationResponse{OperationProgress: p, Percent: p.Percent()})
		case <-r.Context().Done():
			return
		}
	}
}
