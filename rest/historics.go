package rest

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// HistoricsPrepare prepares a historic query over [start, end) for the
// definition with the given hash, reading from sources (e.g. "twitter").
// The returned Historic starts through this client.
func (c *Client) HistoricsPrepare(hash string, start, end time.Time, name string, sources []string) (*datasift.Historic, error) {
	switch {
	case hash == "":
		return nil, errors.Wrap(datasift.ErrInvalidData, "a stream hash is required")
	case !start.Before(end):
		return nil, errors.Wrap(datasift.ErrInvalidData, "start must be before end")
	case len(sources) == 0:
		return nil, errors.Wrap(datasift.ErrInvalidData, "at least one source is required")
	}
	params := url.Values{
		"hash":    {hash},
		"start":   {strconv.FormatInt(start.Unix(), 10)},
		"end":     {strconv.FormatInt(end.Unix(), 10)},
		"name":    {name},
		"sources": {strings.Join(sources, ",")},
	}
	var res struct {
		ID   string  `json:"id"`
		DPUs float64 `json:"dpus"`
	}
	if err := invalidOn(c.call("historics/prepare", params, &res), http.StatusBadRequest); err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, &datasift.APIError{StatusCode: http.StatusOK, Message: "Prepared successfully but no playback ID in the response"}
	}
	c.log.Printf("prepared historic %s for %s, %v DPUs", res.ID, hash, res.DPUs)
	return datasift.NewHistoric(res.ID, hash, c), nil
}

// StartHistoric starts a prepared historic query. It implements
// datasift.HistoricStarter.
func (c *Client) StartHistoric(id string) error {
	if id == "" {
		return errors.Wrap(datasift.ErrInvalidData, "a playback id is required")
	}
	return invalidOn(c.call("historics/start", url.Values{"id": {id}}, nil), http.StatusBadRequest, http.StatusNotFound)
}

// StopHistoric stops a running historic query.
func (c *Client) StopHistoric(id string) error {
	if id == "" {
		return errors.Wrap(datasift.ErrInvalidData, "a playback id is required")
	}
	return invalidOn(c.call("historics/stop", url.Values{"id": {id}}, nil), http.StatusBadRequest, http.StatusNotFound)
}

// invalidOn turns API errors with one of codes into ErrInvalidData.
func invalidOn(err error, codes ...int) error {
	status := statusOf(err)
	for _, code := range codes {
		if status == code {
			return errors.Wrap(datasift.ErrInvalidData, errors.Cause(err).(*datasift.APIError).Message)
		}
	}
	return err
}
