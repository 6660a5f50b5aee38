// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collector

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/SurveyTrace/services/recorder/analyzer"
)

// SessionReport is the body of GET /api/sessions/:id/report.
type SessionReport struct {
	SessionID   string          `json:"sessionId"`
	TotalEvents int             `json:"totalEvents"`
	Report      analyzer.Report `json:"report"`
}

func (s *Server) handleSessionReport(c *gin.Context) {
	evs, ok := s.sessionEvents(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SessionReport{
		SessionID:   c.Param("id"),
		TotalEvents: len(evs),
		Report:      analyzer.New(evs).Report(),
	})
}
