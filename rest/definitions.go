package rest

import (
	"net/http"
	"net/url"

	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// Validation is the result of validating or compiling a definition.
type Validation struct {
	Hash      string  `json:"hash"`
	CreatedAt string  `json:"created_at"`
	DPU       float64 `json:"dpu"`
}

// Compile compiles csdl and returns its stream hash. It implements
// datasift.Compiler. A definition DataSift refuses to compile gives an error
// whose cause is datasift.ErrCompileFailed.
func (c *Client) Compile(csdl string) (string, error) {
	v, err := c.compile("compile", csdl)
	if err != nil {
		return "", err
	}
	if v.Hash == "" {
		return "", errors.Wrap(datasift.ErrCompileFailed, "compiled successfully but no hash in the response")
	}
	return v.Hash, nil
}

// Validate checks csdl without creating a stream, returning its cost.
func (c *Client) Validate(csdl string) (*Validation, error) {
	return c.compile("validate", csdl)
}

func (c *Client) compile(endpoint, csdl string) (*Validation, error) {
	if csdl == "" {
		return nil, errors.Wrapf(datasift.ErrInvalidData, "cannot %s an empty definition", endpoint)
	}
	v := &Validation{}
	err := c.call(endpoint, url.Values{"csdl": {csdl}}, v)
	switch status := statusOf(err); {
	case err == nil:
	case status == http.StatusBadRequest:
		return nil, errors.Wrap(datasift.ErrCompileFailed, errors.Cause(err).(*datasift.APIError).Message)
	case status != 0:
		return nil, errors.Wrapf(err, "unexpected %s failure", endpoint)
	default:
		return nil, err
	}
	if v.CreatedAt == "" {
		return nil, errors.Wrapf(datasift.ErrCompileFailed, "%s succeeded but no created_at in the response", endpoint)
	}
	return v, nil
}
