package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/orderkeeper/internal/domain/fault"
	"github.com/xenking/orderkeeper/pkg/httpmiddleware"
)

// maxLookupIDs bounds a single /items lookup.
const maxLookupIDs = 500

// ListItems handles GET /items?ids=a,b,c, the protocol spoken by the remote
// price catalog client. Unknown ids are omitted from the response.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "Query parameter ids is required")
		return
	}
	if len(ids) > maxLookupIDs {
		writeError(w, http.StatusBadRequest, "Too many ids")
		return
	}

	products, err := h.products.GetByIDs(r.Context(), ids)
	if err != nil {
		handleError(r.Context(), w, "List items", fault.Storage("list items", err))
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeProducts(e, products)
	httpmiddleware.WriteJSON(w, http.StatusOK, e.Bytes())
}
