package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
)

// maxDefinitionBytes bounds request bodies carrying a definition.
const maxDefinitionBytes = 1 << 20

const defaultRecallLimit = 5

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Executions: len(s.engine.ListExecutions()),
		Reports:    len(s.engine.ListReports()),
	})
}

func (s *Server) handleListCognitions(c echo.Context) error {
	defs := s.engine.Definitions()
	out := make([]CognitionSummary, len(defs))
	for i, d := range defs {
		out[i] = CognitionSummary{
			ID:           d.ID,
			Name:         d.Name,
			Description:  d.Description,
			Category:     d.Category,
			Phases:       len(d.Phases),
			Participants: len(d.Participants),
			Tags:         d.Tags,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetCognition(c echo.Context) error {
	def, err := s.engine.Definition(c.Param("id"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, def)
}

// handleValidate parses the body as a definition in the format named by
// Content-Type (JSON unless YAML or TOML is given).
func (s *Server) handleValidate(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	def, err := cognition.Parse(body, formatOf(c))
	if err != nil {
		resp := ValidateResponse{Valid: false}
		var verr *cognition.ValidationError
		if errors.As(err, &verr) {
			resp.ID = verr.DefinitionID
			resp.Problems = verr.Problems
		} else {
			resp.Problems = []string{err.Error()}
		}
		return c.JSON(http.StatusOK, resp)
	}
	return c.JSON(http.StatusOK, ValidateResponse{
		Valid:        true,
		ID:           def.ID,
		Phases:       len(def.Phases),
		Participants: len(def.Participants),
	})
}

func (s *Server) handleRecall(c echo.Context) error {
	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q query parameter is required")
	}
	n := defaultRecallLimit
	if raw := c.QueryParam("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "n must be a non-negative integer")
		}
		n = v
	}
	insights, err := s.engine.Recall(c.Request().Context(), c.Param("id"), query, n)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, insights)
}

func (s *Server) handleForget(c echo.Context) error {
	if err := s.engine.Forget(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleStart starts an inline definition or a catalog definition.
func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	opts := engine.StartOptions{MaxBuffered: req.MaxBuffered, Discard: req.Discard}
	ctx := c.Request().Context()

	var (
		id  string
		err error
	)
	switch {
	case len(req.Definition) > 0 && req.DefinitionID != "":
		return echo.NewHTTPError(http.StatusBadRequest, "definition and definition_id are mutually exclusive")
	case len(req.Definition) > 0:
		def, perr := cognition.Parse(req.Definition, cognition.FormatJSON)
		if perr != nil {
			if errors.Is(perr, cognition.ErrValidation) {
				return s.fail(perr)
			}
			return echo.NewHTTPError(http.StatusBadRequest, perr.Error())
		}
		id, err = s.engine.StartExecution(ctx, def, opts)
	case req.DefinitionID != "":
		id, err = s.engine.StartDefinition(ctx, req.DefinitionID, opts)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "definition or definition_id is required")
	}
	if err != nil {
		return s.fail(err)
	}

	s.logger.Info("execution started over http", zap.String("execution_id", id))
	return c.JSON(http.StatusAccepted, StartResponse{ExecutionID: id})
}

func (s *Server) handleListExecutions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.ListExecutions())
}

func (s *Server) handleGetExecution(c echo.Context) error {
	exec, err := s.engine.GetExecution(c.Param("id"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) handleCancel(c echo.Context) error {
	id := c.Param("id")
	if err := s.engine.Cancel(id); err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, CancelResponse{ExecutionID: id, Status: execution.StatusCancelled})
}

func (s *Server) handleGetReport(c echo.Context) error {
	rep, err := s.engine.GetReport(c.Param("id"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleReseal(c echo.Context) error {
	rep, err := s.engine.ResealReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		if rep != nil {
			return c.JSON(engine.HTTPStatus(err), ResealResponse{Report: rep, Error: err.Error()})
		}
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleVerify(c echo.Context) error {
	v, err := s.engine.VerifyReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) handleAnalysis(c echo.Context) error {
	a, err := s.engine.AnalyzeFailure(c.Param("id"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleListReports(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.ListReports())
}

func (s *Server) handleReportByLedger(c echo.Context) error {
	rep, err := s.engine.FindReportByLedger(c.Param("*"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) handleReportByContent(c echo.Context) error {
	rep, err := s.engine.FindReportByContent(c.Param("*"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDefinitionBytes+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "reading request body")
	}
	if len(body) > maxDefinitionBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("definition exceeds %d bytes", maxDefinitionBytes))
	}
	return body, nil
}

func formatOf(c echo.Context) cognition.Format {
	ct := strings.ToLower(c.Request().Header.Get(echo.HeaderContentType))
	switch {
	case strings.Contains(ct, "yaml"):
		return cognition.FormatYAML
	case strings.Contains(ct, "toml"):
		return cognition.FormatTOML
	default:
		return cognition.FormatJSON
	}
}
