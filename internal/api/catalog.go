package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trayvision/trayvision-go/internal/catalog"
	"github.com/trayvision/trayvision-go/internal/datastore"
)

// --- Prototype set admin ---

type prototypeEntry struct {
	ItemID    int       `json:"item_id"`
	Embedding []float32 `json:"embedding"`
}

type createPrototypeSetRequest struct {
	Notes      string           `json:"notes,omitempty"`
	Prototypes []prototypeEntry `json:"prototypes"`
}

type prototypeSetResponse struct {
	SetID     uint      `json:"set_id"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toPrototypeSetResponse(set *datastore.PrototypeSet) prototypeSetResponse {
	return prototypeSetResponse{
		SetID:     set.ID,
		Status:    set.Status,
		Notes:     set.Notes,
		CreatedAt: set.CreatedAt,
	}
}

// ListPrototypeSets returns all catalog sets, newest first.
func (c *Controller) ListPrototypeSets(ctx echo.Context) error {
	sets, err := c.DS.ListPrototypeSets()
	if err != nil {
		return err
	}
	out := make([]prototypeSetResponse, 0, len(sets))
	for i := range sets {
		out = append(out, toPrototypeSetResponse(&sets[i]))
	}
	return ctx.JSON(http.StatusOK, out)
}

// CreatePrototypeSet builds a new INACTIVE prototype set from the uploaded
// embeddings. The set only starts serving queries after activation.
func (c *Controller) CreatePrototypeSet(ctx echo.Context) error {
	var req createPrototypeSetRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Prototypes) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "prototypes must not be empty")
	}

	itemIDs := make([]int, 0, len(req.Prototypes))
	vectors := make([][]float32, 0, len(req.Prototypes))
	for _, p := range req.Prototypes {
		itemIDs = append(itemIDs, p.ItemID)
		vectors = append(vectors, p.Embedding)
	}

	setID, err := catalog.BuildSet(c.DS, req.Notes, itemIDs, vectors)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return ctx.JSON(http.StatusCreated, prototypeSetResponse{
		SetID:  setID,
		Status: datastore.PrototypeSetInactive,
		Notes:  req.Notes,
	})
}

// ActivatePrototypeSet switches the serving catalog to the given set and
// notifies the co-located worker to hot swap its index.
func (c *Controller) ActivatePrototypeSet(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid set id")
	}

	if err := catalog.Activate(c.DS, uint(id)); err != nil {
		return err
	}

	if c.onCatalogActivated != nil {
		index, err := catalog.LoadActive(c.DS)
		if err != nil {
			c.logger.Error("activated catalog reload failed", "set", id, "error", err)
		} else {
			c.onCatalogActivated(index)
		}
	}
	return ctx.NoContent(http.StatusNoContent)
}

// --- Safety events ---

type eventResponse struct {
	ID         uint      `json:"id"`
	EventType  string    `json:"event_type"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	StoreCode  string    `json:"store_code"`
	DeviceCode string    `json:"device_code"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	ClipURI    string    `json:"clip_uri,omitempty"`
}

// ListEvents returns recent confirmed safety events, newest first.
func (c *Controller) ListEvents(ctx echo.Context) error {
	limit := 50
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = parsed
	}

	events, err := c.DS.ListCCTVEvents(limit)
	if err != nil {
		return err
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:         ev.ID,
			EventType:  ev.EventType,
			Confidence: ev.Confidence,
			Status:     ev.Status,
			StoreCode:  ev.StoreCode,
			DeviceCode: ev.DeviceCode,
			StartedAt:  ev.StartedAt,
			EndedAt:    ev.EndedAt,
			ClipURI:    ev.ClipURI,
		})
	}
	return ctx.JSON(http.StatusOK, out)
}
