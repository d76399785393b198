package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"macrostudio/engine"
	"macrostudio/macro"
	"macrostudio/models"
)

// ListMacros returns every stored macro.
func ListMacros(c *gin.Context, store *macro.Store) {
	macros, err := store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(macros))
}

// CreateMacro stores a new macro. The request body is the raw macro
// document, so exported documents import unchanged.
func CreateMacro(c *gin.Context, store *macro.Store) {
	def, ok := readDefinition(c)
	if !ok {
		return
	}

	m, err := store.Create(def, c.Query("description"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(m))
}

// GetMacro returns one macro with its full document.
func GetMacro(c *gin.Context, store *macro.Store) {
	m, err := store.Get(c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(m))
}

// UpdateMacro replaces a stored macro's document.
func UpdateMacro(c *gin.Context, store *macro.Store) {
	def, ok := readDefinition(c)
	if !ok {
		return
	}

	m, err := store.Update(c.Param("id"), def, c.Query("description"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(m))
}

// DeleteMacro removes a macro from the library.
func DeleteMacro(c *gin.Context, store *macro.Store) {
	if err := store.Delete(c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("macro deleted"))
}

// ValidateMacro checks a document without storing or running it.
func ValidateMacro(c *gin.Context) {
	if _, ok := readDefinition(c); !ok {
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("macro is valid"))
}

// StartRunRequest selects what to run: a stored macro by ID, or an inline
// document.
type StartRunRequest struct {
	MacroID    string                  `json:"macro_id,omitempty"`
	Definition *models.MacroDefinition `json:"definition,omitempty"`
}

// StartRun begins a new run. A run already in progress is rejected, never
// queued.
func StartRun(c *gin.Context, store *macro.Store, eng *engine.Engine) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid request body: "+err.Error()))
		return
	}

	var def *models.MacroDefinition
	switch {
	case req.MacroID != "":
		m, err := store.Get(req.MacroID)
		if err != nil {
			writeStoreError(c, err)
			return
		}
		def = m.Definition
	case req.Definition != nil:
		if err := macro.Validate(req.Definition); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
			return
		}
		def = req.Definition
	default:
		c.JSON(http.StatusBadRequest, models.ErrorResponse("macro_id or definition is required"))
		return
	}

	runID, err := eng.Start(def)
	if err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"run_id": runID}))
}

// PauseRun parks the active run.
func PauseRun(c *gin.Context, eng *engine.Engine) {
	eng.Pause()
	c.JSON(http.StatusOK, models.MessageResponse("pause requested"))
}

// ResumeRun releases a paused run.
func ResumeRun(c *gin.Context, eng *engine.Engine) {
	eng.Resume()
	c.JSON(http.StatusOK, models.MessageResponse("resume requested"))
}

// StopRun requests an orderly stop.
func StopRun(c *gin.Context, eng *engine.Engine) {
	eng.Stop()
	c.JSON(http.StatusOK, models.MessageResponse("stop requested"))
}

// EmergencyStopRun abandons the active run immediately.
func EmergencyStopRun(c *gin.Context, eng *engine.Engine) {
	eng.EmergencyStop()
	c.JSON(http.StatusOK, models.MessageResponse("emergency stop requested"))
}

// RunStatus reports the active run's read-only mirror.
func RunStatus(c *gin.Context, eng *engine.Engine) {
	c.JSON(http.StatusOK, models.SuccessResponse(eng.Status()))
}

// readDefinition parses and validates the raw macro document in the request
// body, writing the error response itself on failure.
func readDefinition(c *gin.Context) (*models.MacroDefinition, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("failed to read request body"))
		return nil, false
	}

	def, err := macro.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return nil, false
	}
	return def, true
}

func writeStoreError(c *gin.Context, err error) {
	var vErr *macro.ValidationError
	switch {
	case errors.Is(err, macro.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse(err.Error()))
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
	}
}
