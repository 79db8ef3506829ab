package http

import (
	"net/http"

	"cargostat/internal/core"
	"cargostat/internal/log"
	"cargostat/internal/services"
	"cargostat/internal/store"
)

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in services.CategoryInput
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	cat, err := s.admin.CreateCategory(r.Context(), in)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(cat).Write(w)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID[core.CategoryID](r, "id")
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	var in services.CategoryInput
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	cat, err := s.admin.UpdateCategory(r.Context(), id, in)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(cat).Write(w)
}

// handleDeleteCategory removes a category; ?purge=true removes its records
// first.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID[core.CategoryID](r, "id")
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	purge, err := ParseBool(r.URL.Query(), "purge")
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.admin.DeleteCategory(r.Context(), id, purge); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handlePurgeCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID[core.CategoryID](r, "id")
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	n, err := s.admin.PurgeCategory(r.Context(), id)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Body(map[string]any{"categoryId": id, "removed": n}).Write(w)
}

type reorderRequest[T ~int64] struct {
	IDs []T `json:"ids"`
}

func (s *Server) handleReorderCategories(w http.ResponseWriter, r *http.Request) {
	var in reorderRequest[core.CategoryID]
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	if err := s.admin.ReorderCategories(r.Context(), in.IDs); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleCreateSubCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := ParseID[core.CategoryID](r, "id")
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	var in services.SubCategoryInput
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	sub, err := s.admin.CreateSubCategory(r.Context(), categoryID, in)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(sub).Write(w)
}

func (s *Server) handleReorderSubCategories(w http.ResponseWriter, r *http.Request) {
	categoryID, err := ParseID[core.CategoryID](r, "id")
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	var in reorderRequest[core.SubCategoryID]
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	if err := s.admin.ReorderSubCategories(r.Context(), categoryID, in.IDs); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleUpdateSubCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID[core.SubCategoryID](r, "id")
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	var in services.SubCategoryInput
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	sub, err := s.admin.UpdateSubCategory(r.Context(), id, in)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(sub).Write(w)
}

func (s *Server) handleDeleteSubCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID[core.SubCategoryID](r, "id")
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.admin.DeleteSubCategory(r.Context(), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleUpsertRecord(w http.ResponseWriter, r *http.Request) {
	var in services.RecordInput
	if err := DecodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	rec, err := s.admin.UpsertRecord(r.Context(), in)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(rec).Write(w)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID[core.RecordID](r, "id")
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.admin.DeleteRecord(r.Context(), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleRestore replaces the whole state with a snapshot from /api/export.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var snap store.Snapshot
	if err := DecodeJSON(w, r, &snap); err != nil {
		writeError(w, r, log.OpRestore, err)
		return
	}
	if err := s.admin.Restore(r.Context(), snap); err != nil {
		writeError(w, r, log.OpRestore, err)
		return
	}
	NewJSONResponse().Versions(s.reports.Versions()).Status(http.StatusNoContent).Write(w)
}
