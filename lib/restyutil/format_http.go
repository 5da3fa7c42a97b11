package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Dumps land in a debug directory that tends to get attached to bug reports,
// so browser session cookies and the crumb token are masked before writing.
// Cookie names stay visible, their values do not.
const masked = "<redacted>"

var crumbParamRe = regexp.MustCompile(`([?&]crumb=)[^&]*`)

func maskURL(raw string) string {
	return crumbParamRe.ReplaceAllString(raw, "${1}"+masked)
}

func maskHeaderValue(key, value string) string {
	switch http.CanonicalHeaderKey(key) {
	case "Cookie":
		parts := strings.Split(value, "; ")
		for i, part := range parts {
			if name, _, ok := strings.Cut(part, "="); ok {
				parts[i] = name + "=" + masked
			}
		}
		return strings.Join(parts, "; ")
	case "Set-Cookie":
		if name, _, ok := strings.Cut(value, "="); ok {
			return name + "=" + masked
		}
		return masked
	case "Authorization":
		return masked
	}
	return value
}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for key, vals := range headers {
		for _, v := range vals {
			out.WriteString(fmt.Sprintf("%s: %s\n", key, maskHeaderValue(key, v)))
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(readBody)
}

// 1: request method
// 2: request url
// 3: request headers (in "Key: Value" format)
// 4: request body
// 5: response status
// 6: response url
// 7: response headers (in "Key: Value" format)
// 8: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	requestHeaders := formatHeaders(res.Request.RawRequest.Header)
	responseHeaders := formatHeaders(res.Header())

	responseUrl := res.Request.URL
	redirected, err := res.RawResponse.Location()
	if err == nil {
		responseUrl = redirected.String()
	}

	return fmt.Sprintf(
		messageInfoTemplate,

		res.Request.Method, maskURL(res.Request.URL),
		requestHeaders,
		formatRequestBody(res.Request.RawRequest),

		strconv.Itoa(res.StatusCode()), maskURL(responseUrl),
		responseHeaders,
		res.String(),
	)
}
