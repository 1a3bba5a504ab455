package http

import (
	"net/http"

	"github.com/DRSN-tech/product-identity/internal/usecase"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type GroupHandler struct {
	groupUsecase usecase.GroupUC
	logger       logger.Logger
}

func NewGroupHandler(groupUsecase usecase.GroupUC, logger logger.Logger) *GroupHandler {
	return &GroupHandler{groupUsecase: groupUsecase, logger: logger}
}

// getGroup
//
//	@Summary	Группа товара
//	@Tags		groups
//	@Produce	json
//	@Param		tenant	path		string			true	"Тенант"
//	@Param		groupID	path		string			true	"Идентификатор группы"
//	@Success	200		{object}	GroupResponse
//	@Failure	404		{object}	ErrorResponse	"Группа не найдена"
//	@Router		/v1/tenants/{tenant}/groups/{groupID} [get]
func (h *GroupHandler) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groupUsecase.GetGroupByID(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "groupID"))
	if err != nil {
		h.logger.Warnf("get group: %v", err)
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toGroupResponse(group))
}

// listGroups - последние обновлённые первыми.
//
//	@Summary	Группы тенанта
//	@Tags		groups
//	@Produce	json
//	@Param		tenant	path		string	true	"Тенант"
//	@Param		limit	query		int		false	"Максимум групп (по умолчанию 100)"
//	@Success	200		{object}	ListGroupsResponse
//	@Router		/v1/tenants/{tenant}/groups [get]
func (h *GroupHandler) listGroups(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	groups, err := h.groupUsecase.ListGroups(r.Context(), chi.URLParam(r, "tenant"), limit)
	if err != nil {
		h.logger.Warnf("list groups: %v", err)
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toListGroupsResponse(groups))
}
