package routes

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

func handleJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func handleErrorType(w http.ResponseWriter, err error, code int, logger *zap.SugaredLogger) {
	logger.Errorf("%+v", err)
	errMessage := "An error occured on the server while processing the request"
	if code < http.StatusInternalServerError {
		errMessage = err.Error()
	}
	http.Error(w, errMessage, code)
}
