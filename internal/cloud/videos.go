package cloud

import (
	"context"
	"net/http"
)

// HTTPVideoService lists the videos already stored on the backend.
type HTTPVideoService struct {
	client *HTTPClient
}

func (s *HTTPVideoService) List(ctx context.Context) ([]VideoEntry, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet, "/api/videos", nil)
	if err != nil {
		return nil, err
	}

	var videos []VideoEntry
	if err := s.client.do(req, "list videos", &videos); err != nil {
		return nil, err
	}
	if videos == nil {
		videos = []VideoEntry{}
	}
	return videos, nil
}
