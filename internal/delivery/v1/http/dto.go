package http

import (
	"time"

	"github.com/DRSN-tech/product-identity/internal/domain"
	"github.com/DRSN-tech/product-identity/internal/usecase"
)

type GroupResponse struct {
	GroupID        string    `json:"groupId"`
	PrimaryImageID string    `json:"primaryImageId"`
	ImageIDs       []string  `json:"imageIds"`
	ProductName    string    `json:"productName,omitempty"`
	Category       string    `json:"category,omitempty"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type ProcessImageResponse struct {
	ImageID       string                   `json:"imageId"`
	SimilarImages []domain.SimilarityMatch `json:"similarImages"`
	AssignedGroup *GroupResponse           `json:"assignedGroup,omitempty"`
	IsNewGroup    bool                     `json:"isNewGroup"`
}

type BatchGroupResponse struct {
	GroupResponse
	IsNew           bool                      `json:"isNew"`
	SignalBreakdown map[domain.Signal]float64 `json:"signalBreakdown,omitempty"`
}

type BatchFailureResponse struct {
	ImageID string `json:"imageId"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

type BatchTimingsResponse struct {
	FeatureMs   int64 `json:"featureMs"`
	EmbeddingMs int64 `json:"embeddingMs"`
	TotalMs     int64 `json:"totalMs"`
}

type BatchSummaryResponse struct {
	Groups             []BatchGroupResponse   `json:"groups"`
	Ungrouped          []string               `json:"ungrouped"`
	Processed          int                    `json:"processed"`
	ExistingMatched    int                    `json:"existingMatched"`
	MultiSignalEnabled bool                   `json:"multiSignalEnabled"`
	Failures           []BatchFailureResponse `json:"failures"`
	Timings            BatchTimingsResponse   `json:"timings"`
}

type ListGroupsResponse struct {
	Groups []GroupResponse `json:"groups"`
}

type UploadRefRequest struct {
	ImageID   string `json:"imageId"`
	ObjectKey string `json:"objectKey"`
}

type ProcessUploadsRequest struct {
	Uploads []UploadRefRequest `json:"uploads"`
}

func toGroupResponse(g *domain.ProductGroup) *GroupResponse {
	if g == nil {
		return nil
	}
	return &GroupResponse{
		GroupID:        g.GroupID,
		PrimaryImageID: g.PrimaryImageID,
		ImageIDs:       g.ImageIDs,
		ProductName:    g.ProductName,
		Category:       g.Category,
		Confidence:     g.Confidence,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
}

func toProcessImageResponse(res *usecase.ProcessImageRes) *ProcessImageResponse {
	return &ProcessImageResponse{
		ImageID:       res.Embedding.ImageID,
		SimilarImages: res.SimilarImages,
		AssignedGroup: toGroupResponse(res.AssignedGroup),
		IsNewGroup:    res.IsNewGroup,
	}
}

func toBatchSummaryResponse(s *usecase.BatchSummary) *BatchSummaryResponse {
	res := &BatchSummaryResponse{
		Groups:             make([]BatchGroupResponse, 0, len(s.Groups)),
		Ungrouped:          s.Ungrouped,
		Processed:          s.Processed,
		ExistingMatched:    s.ExistingMatched,
		MultiSignalEnabled: s.MultiSignalEnabled,
		Failures:           make([]BatchFailureResponse, 0, len(s.Failures)),
		Timings: BatchTimingsResponse{
			FeatureMs:   s.Timings.Features.Milliseconds(),
			EmbeddingMs: s.Timings.Embedding.Milliseconds(),
			TotalMs:     s.Timings.Total.Milliseconds(),
		},
	}

	for _, g := range s.Groups {
		if g.Group == nil {
			continue
		}
		res.Groups = append(res.Groups, BatchGroupResponse{
			GroupResponse:   *toGroupResponse(g.Group),
			IsNew:           g.IsNew,
			SignalBreakdown: g.SignalBreakdown,
		})
	}

	for _, f := range s.Failures {
		msg := ""
		if f.Err != nil {
			_, msg = ToHTTPResponse(f.Err)
		}
		res.Failures = append(res.Failures, BatchFailureResponse{
			ImageID: f.ImageID,
			Stage:   string(f.Stage),
			Error:   msg,
		})
	}

	return res
}

func toListGroupsResponse(groups []*domain.ProductGroup) *ListGroupsResponse {
	res := &ListGroupsResponse{Groups: make([]GroupResponse, 0, len(groups))}
	for _, g := range groups {
		res.Groups = append(res.Groups, *toGroupResponse(g))
	}
	return res
}

func toUploadRefs(req []UploadRefRequest) []usecase.UploadRef {
	refs := make([]usecase.UploadRef, 0, len(req))
	for _, u := range req {
		refs = append(refs, usecase.UploadRef{ImageID: u.ImageID, ObjectKey: u.ObjectKey})
	}
	return refs
}
