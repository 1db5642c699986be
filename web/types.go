package web

type uploadRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Enabled  bool   `json:"enabled"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}
