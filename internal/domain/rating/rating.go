package rating

import (
	"errors"
	"math"
	"time"
)

var (
	ErrNotFound      = errors.New("rating not found")
	ErrAlreadyRated  = errors.New("you have already rated this module")
	ErrModuleMissing = errors.New("module not found")
)

type Rating struct {
	ID        string    `json:"id"`
	ModuleID  string    `json:"moduleId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Rating    int       `json:"rating"`
	Review    string    `json:"review,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Statistics struct {
	AverageRating float64 `json:"averageRating"`
	TotalRatings  int     `json:"totalRatings"`
}

type ModuleRatings struct {
	Ratings    []Rating   `json:"ratings"`
	Statistics Statistics `json:"statistics"`
}

type CreateRequest struct {
	Rating int    `json:"rating" binding:"required,min=1,max=5"`
	Review string `json:"review" binding:"max=2000"`
}

// Summarize averages sum over n ratings, rounded to two decimals.
func Summarize(sum, n int) Statistics {
	if n == 0 {
		return Statistics{}
	}
	avg := float64(sum) / float64(n)
	return Statistics{
		AverageRating: math.Round(avg*100) / 100,
		TotalRatings:  n,
	}
}
