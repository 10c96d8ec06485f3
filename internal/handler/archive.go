package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/orderkeeper/pkg/httpmiddleware"
)

// CleanupOrders handles POST /cleanup_orders by running one archival pass
// with the configured retention.
func (h *Handler) CleanupOrders(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	res, err := h.archiver.ArchiveOrdersOlderThan(r.Context(), h.retention)
	if err != nil {
		handleError(r.Context(), w, "Cleanup orders", err)
		return
	}

	msg := "No old orders to clean"
	if res.ArchivedOrders > 0 {
		msg = "Deleted " + strconv.Itoa(res.ArchivedOrders) + " old orders"
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeCleanup(e, msg, res)
	httpmiddleware.WriteJSON(w, http.StatusOK, e.Bytes())
}
