package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/profile"
	"github.com/zoterag/zoterag/internal/provider"
)

func (s *Server) listProfiles(c *gin.Context) {
	profiles, err := s.profiles.List()
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := gin.H{"profiles": profiles, "activeProfileId": nil}
	if id, err := s.profiles.Active(); err == nil {
		resp["activeProfileId"] = id
	}
	c.JSON(http.StatusOK, resp)
}

type createProfileRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, ragerr.ValidationError("invalid request body", err))
		return
	}
	if req.ID == "" || req.Name == "" {
		s.fail(c, ragerr.ValidationError("missing required fields: id, name", nil))
		return
	}

	p, err := s.profiles.Create(req.ID, req.Name, req.Description)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "profile": p})
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.profiles.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

type updateProfileRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) updateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, ragerr.ValidationError("invalid request body", err))
		return
	}

	p, err := s.profiles.Update(c.Param("id"), profile.UpdateInfo{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": p})
}

func (s *Server) deleteProfile(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	if err := s.profiles.Delete(c.Param("id"), force); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// activateProfile moves the active marker. The running service keeps
// its working set; the next server start opens the newly active
// profile's data.
func (s *Server) activateProfile(c *gin.Context) {
	id := c.Param("id")
	if err := s.profiles.Activate(id); err != nil {
		s.fail(c, err)
		return
	}

	p, err := s.profiles.Get(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "activeProfile": p})
}

// getSettings returns the active profile's settings with API keys in
// their display form.
func (s *Server) getSettings(c *gin.Context) {
	id, err := s.profiles.Active()
	if err != nil {
		s.fail(c, err)
		return
	}
	settings, err := s.profiles.Settings(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings.Masked())
}

// updateSettings saves the active profile's settings and pushes them
// into the running service. Masked API key values keep the stored key.
func (s *Server) updateSettings(c *gin.Context) {
	var settings profile.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		s.fail(c, ragerr.ValidationError("invalid request body", err))
		return
	}

	id, err := s.profiles.Active()
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.profiles.SaveSettings(id, settings); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.ApplySettings(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ApplySettings pushes the active profile's stored credentials and
// model selection into the service. The serve command calls it once at
// startup; updateSettings calls it after every save.
func (s *Server) ApplySettings(ctx context.Context) error {
	id, err := s.profiles.Active()
	if err != nil {
		return err
	}
	settings, err := s.profiles.Settings(id)
	if err != nil {
		return err
	}

	for pid, pc := range settings.Providers {
		if pc.Credentials == (provider.Credentials{}) {
			continue
		}
		if err := s.svc.SetProviderCredentials(pid, pc.Credentials); err != nil {
			return err
		}
	}
	if settings.ActiveProviderID != "" {
		return s.svc.SetActiveProvider(ctx, settings.ActiveProviderID, settings.ActiveModel)
	}
	return nil
}
