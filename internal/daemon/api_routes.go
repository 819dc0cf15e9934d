package daemon

import "net/http"

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.Health)
	mux.HandleFunc("/v1/chat/completions", a.ChatCompletions)
	mux.HandleFunc("/v1/models", a.ListModels)
}
