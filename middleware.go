package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deedmark/deed-trade/gateway"
	"github.com/deedmark/deed-trade/listing"
	"github.com/deedmark/deed-trade/registry"
)

func checkErr(c *gin.Context, err error) {
	if err == nil {
		return
	}

	status := http.StatusServiceUnavailable
	switch {
	case errors.Is(err, listing.ErrInvalidPrice):
		status = http.StatusBadRequest
	case errors.Is(err, listing.ErrDuplicateActiveListing),
		errors.Is(err, listing.ErrListingNotActive):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrUnavailable),
		errors.Is(err, gateway.ErrContentUnavailable):
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"message": err.Error()})
}
