package http

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/tsdf/geometry"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
)

const maxRequestBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func decodeJSON(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		return errors.New("reading body failed").Wrap(err)
	}
	if len(b) > maxRequestBodySize {
		return errors.New("request body too large").
			WithTag("max_bytes", maxRequestBodySize)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.New("decoding body failed").Wrap(err)
	}
	return nil
}

func parseIndex3(q url.Values) (geometry.Index3, error) {
	var v [3]int32
	for i, k := range []string{"x", "y", "z"} {
		n, err := strconv.ParseInt(q.Get(k), 10, 32)
		if err != nil {
			return geometry.Index3{}, errors.New("invalid voxel coordinate").
				WithTag("param", k).
				Wrap(err)
		}
		v[i] = int32(n)
	}
	return geometry.NewIndex3(v[0], v[1], v[2]), nil
}

func parseVec3(q url.Values) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	for i, k := range []string{"x", "y", "z"} {
		f, err := strconv.ParseFloat(q.Get(k), 32)
		if err != nil {
			return mgl32.Vec3{}, errors.New("invalid position").
				WithTag("param", k).
				Wrap(err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

func parseFloat(q url.Values, key string, def float32) (float32, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}

	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, errors.New("invalid query parameter").
			WithTag("param", key).
			Wrap(err)
	}
	return float32(f), nil
}

func parseInt(q url.Values, key string, def int) (int, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid query parameter").
			WithTag("param", key).
			Wrap(err)
	}
	return n, nil
}

func parseBool(q url.Values, key string, def bool) (bool, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}

	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.New("invalid query parameter").
			WithTag("param", key).
			Wrap(err)
	}
	return b, nil
}
