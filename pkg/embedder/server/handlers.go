package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/frametree"
	"github.com/odvcencio/constellation/pkg/protocol"
)

type createWindowRequest struct {
	URL  string        `json:"url"`
	Size protocol.Size `json:"size"`
}

type navigateRequest struct {
	URL     string `json:"url"`
	Replace bool   `json:"replace,omitempty"`
}

type traverseRequest struct {
	Delta int `json:"delta"`
}

type attachChildRequest struct {
	URL  string        `json:"url"`
	Rect protocol.Rect `json:"rect"`
}

type contextResponse struct {
	Context protocol.BrowsingContextID `json:"context"`
}

// treeNode is the JSON form of a frame tree node.
type treeNode struct {
	Context  protocol.BrowsingContextID `json:"context"`
	Pipeline protocol.PipelineID        `json:"pipeline,omitempty"`
	Fault    string                     `json:"fault,omitempty"`
	Rect     protocol.Rect              `json:"rect"`
	Children []treeNode                 `json:"children,omitempty"`
}

type treeResponse struct {
	Version uint64     `json:"version"`
	Windows []treeNode `json:"windows"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"contexts": s.opts.Controller.FrameTree().Len(),
	})
}

func (s *Server) handleCreateWindow(w http.ResponseWriter, r *http.Request) {
	var req createWindowRequest
	if err := decodeJSONBody(w, r, &req, s.opts.RequestBodyMaxSize, false); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondError(w, errors.New(errors.ErrCodeInvalidInput, "url is required"))
		return
	}
	id, err := s.opts.Controller.CreateTopLevel(r.Context(), req.URL, req.Size)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, contextResponse{Context: id})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	id, err := contextParam(r, "context")
	if err != nil {
		respondError(w, err)
		return
	}
	var req navigateRequest
	if err := decodeJSONBody(w, r, &req, s.opts.RequestBodyMaxSize, false); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondError(w, errors.New(errors.ErrCodeInvalidInput, "url is required"))
		return
	}
	if err := s.opts.Controller.Navigate(r.Context(), id, req.URL, req.Replace); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, contextResponse{Context: id})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	id, err := contextParam(r, "context")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.opts.Controller.Reload(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, contextResponse{Context: id})
}

func (s *Server) handleTraverse(w http.ResponseWriter, r *http.Request) {
	window, err := contextParam(r, "window")
	if err != nil {
		respondError(w, err)
		return
	}
	var req traverseRequest
	if err := decodeJSONBody(w, r, &req, s.opts.RequestBodyMaxSize, false); err != nil {
		respondError(w, err)
		return
	}
	if err := s.opts.Controller.Traverse(r.Context(), window, req.Delta); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, contextResponse{Context: window})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	window, err := contextParam(r, "window")
	if err != nil {
		respondError(w, err)
		return
	}
	var size protocol.Size
	if err := decodeJSONBody(w, r, &size, s.opts.RequestBodyMaxSize, false); err != nil {
		respondError(w, err)
		return
	}
	if size.Empty() {
		respondError(w, errors.New(errors.ErrCodeInvalidInput, "size must be positive"))
		return
	}
	if err := s.opts.Controller.Resize(r.Context(), window, size); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttachChild(w http.ResponseWriter, r *http.Request) {
	parent, err := contextParam(r, "context")
	if err != nil {
		respondError(w, err)
		return
	}
	var req attachChildRequest
	if err := decodeJSONBody(w, r, &req, s.opts.RequestBodyMaxSize, false); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondError(w, errors.New(errors.ErrCodeInvalidInput, "url is required"))
		return
	}
	id, err := s.opts.Controller.AttachChild(r.Context(), parent, req.URL, req.Rect)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, contextResponse{Context: id})
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	id, err := contextParam(r, "context")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.opts.Controller.Detach(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	window, err := contextParam(r, "window")
	if err != nil {
		respondError(w, err)
		return
	}
	view, err := s.opts.Controller.History(r.Context(), window)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	infos, err := s.opts.Controller.Pipelines(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pipelines": infos})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pointer == nil {
		respondError(w, errors.New(errors.ErrCodeNotImplemented, "input routing is not enabled"))
		return
	}
	window, err := contextParam(r, "window")
	if err != nil {
		respondError(w, err)
		return
	}
	var ev protocol.InputEvent
	if err := decodeJSONBody(w, r, &ev, s.opts.RequestBodyMaxSize, false); err != nil {
		respondError(w, err)
		return
	}
	if err := s.opts.Pointer.HandlePointer(r.Context(), window, ev); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleTree returns the current frame tree as JSON, or as an indented text
// dump with ?format=text.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Controller.FrameTree()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(snap.String()))
		return
	}

	resp := treeResponse{Version: snap.Version(), Windows: []treeNode{}}
	for _, root := range snap.Roots() {
		if n, ok := snap.Get(root); ok {
			resp.Windows = append(resp.Windows, toTreeNode(snap, n))
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func toTreeNode(snap *frametree.Snapshot, n frametree.Node) treeNode {
	out := treeNode{Context: n.ID, Pipeline: n.Active, Fault: n.Fault, Rect: n.Rect}
	for _, cid := range n.Children {
		if c, ok := snap.Get(cid); ok {
			out.Children = append(out.Children, toTreeNode(snap, c))
		}
	}
	return out
}
