package apps

import (
	"fmt"
	"net/url"

	"appbridge/internal/bridge"
)

// Hello greets the "name" query parameter, producing its body lazily.
func Hello() bridge.Application {
	return bridge.ApplicationFunc(func(env bridge.Environ, start bridge.StartResponse) (bridge.BodyProducer, error) {
		q, err := url.ParseQuery(env.Query())
		if err != nil {
			start("400 Bad Request", textHeaders())
			return bridge.Chunks([]byte(fmt.Sprintf("bad query string: %v\n", err))), nil
		}
		name := q.Get("name")
		if name == "" {
			name = "world"
		}
		start("200 OK", textHeaders())
		return bridge.Chunks([]byte("Hello, "), []byte(name), []byte("!\n")), nil
	})
}

// Environ writes every environ entry through the start_response writer.
func Environ() bridge.Application {
	return bridge.ApplicationFunc(func(env bridge.Environ, start bridge.StartResponse) (bridge.BodyProducer, error) {
		w := start("200 OK", textHeaders())
		for _, k := range env.Keys() {
			switch v := env[k].(type) {
			case string:
				fmt.Fprintf(w, "%s=%s\n", k, v)
			case bool, [2]int:
				fmt.Fprintf(w, "%s=%v\n", k, v)
			case []byte:
				fmt.Fprintf(w, "%s=<%d bytes>\n", k, len(v))
			default:
				fmt.Fprintf(w, "%s=<%T>\n", k, v)
			}
		}
		return nil, nil
	})
}
