package middleware

import "net/http"

// MaxBodySize caps request bodies at n bytes. Reads beyond the limit fail and
// the JSON decoders in the handlers turn that into a 400.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
