package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bl4ck0w1/threatlynx/internal/reporting"
	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type createScanRequest struct {
	Target   string `json:"target" binding:"required"`
	ScanType string `json:"scanType"`
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "techniques": s.catalog.Len()}
	if s.hub != nil {
		resp["observers"] = s.hub.Count()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createScan(c *gin.Context) {
	var req createScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := models.ParseScanKind(req.ScanType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.scans.Submit(c.Request.Context(), req.Target, kind)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start scan"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scanId": id})
}

func (s *Server) listScans(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	scans, err := s.store.ListScans(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	for i := range scans {
		scans[i].Results = nil
	}
	c.JSON(http.StatusOK, scans)
}

func (s *Server) getScan(c *gin.Context) {
	scan, ok := s.lookupScan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, scan)
}

func (s *Server) listSubdomains(c *gin.Context) {
	if _, ok := s.lookupScan(c); !ok {
		return
	}
	out, err := s.store.ListSubdomains(c.Request.Context(), c.Param("id"))
	s.respond(c, out, err)
}

func (s *Server) listTechnologies(c *gin.Context) {
	if _, ok := s.lookupScan(c); !ok {
		return
	}
	out, err := s.store.ListTechnologies(c.Request.Context(), c.Param("id"))
	s.respond(c, out, err)
}

func (s *Server) listVulnerabilities(c *gin.Context) {
	if _, ok := s.lookupScan(c); !ok {
		return
	}
	out, err := s.store.ListVulnerabilities(c.Request.Context(), c.Param("id"))
	s.respond(c, out, err)
}

func (s *Server) listMappings(c *gin.Context) {
	if _, ok := s.lookupScan(c); !ok {
		return
	}
	out, err := s.store.ListMappings(c.Request.Context(), c.Param("id"))
	s.respond(c, out, err)
}

func (s *Server) report(c *gin.Context) {
	scan, ok := s.lookupScan(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	vulns, err := s.store.ListVulnerabilities(ctx, scan.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	mappings, err := s.store.ListMappings(ctx, scan.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}

	report, err := reporting.BuildScanReport(*scan, vulns, mappings, s.catalog)
	if err != nil {
		s.internalError(c, err)
		return
	}

	switch format := strings.ToLower(c.DefaultQuery("format", "json")); format {
	case "json":
		c.JSON(http.StatusOK, report)
	case "yaml", "yml":
		data, err := reporting.Encode(report, format)
		if err != nil {
			s.internalError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/yaml", data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or yaml"})
	}
}

func (s *Server) listTechniques(c *gin.Context) {
	if tactic := c.Query("tactic"); tactic != "" {
		out := []models.TechniqueCatalogEntry{}
		for _, e := range s.catalog.All() {
			if strings.EqualFold(e.Tactic, tactic) {
				out = append(out, e)
			}
		}
		c.JSON(http.StatusOK, out)
		return
	}
	c.JSON(http.StatusOK, s.catalog.All())
}

func (s *Server) getTechnique(c *gin.Context) {
	e, ok := s.catalog.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "technique not found"})
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) lookupScan(c *gin.Context) (*models.ScanRecord, bool) {
	scan, err := s.store.GetScan(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return nil, false
	}
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	return scan, true
}

func (s *Server) respond(c *gin.Context, body interface{}, err error) {
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
