package elblog

import (
	"errors"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rowOK = `2015-05-13T23:39:43.945958Z my-lb 10.0.0.1:4321 10.0.1.5:80 0.000086 0.001048 0.001337 200 200 0 57 "GET /x HTTP/1.1" "curl/7.38.0" DHE-RSA-AES128-SHA TLSv1.2`
	row502 = `2015-05-13T23:40:01.000001Z my-lb 192.168.1.7:55001 - -1 -1 -1 502 - 12 0 "POST https://example.com:443/api HTTP/1.1" "Mozilla/5.0 (X11; Linux x86_64)" ECDHE-RSA-AES128-GCM-SHA256 TLSv1.2`
	row404 = `2015-05-13T23:41:10.5Z my-lb 172.16.0.9:1200 10.0.1.5:80 0.00002 0.004 0.00001 404 404 0 120 "GET http://example.com:80/missing HTTP/1.1" "" - -`
	// pre March 2015 rows stop after the request field
	rowOld = `2014-02-15T23:39:43.945958Z old-lb 10.1.2.3:80 10.0.0.2:8080 0.000073 0.001048 0.000057 200 200 0 29 "GET http://www.example.com:80/ HTTP/1.1"`
)

func TestParse_ClientAndRequestSplit(t *testing.T) {
	raw := strings.Join([]string{rowOK, row502, row404}, "\n")

	recs, err := Parse([]byte(raw), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	r := recs[0]
	assert.Equal(t, "10.0.0.1", r.ClientIP)
	assert.Equal(t, "4321", r.ClientPort)
	assert.Equal(t, "GET", r.HTTPMethod)
	assert.Equal(t, "/x", r.RequestURI)
	assert.Equal(t, "HTTP/1.1", r.HTTPVersion)
	assert.Equal(t, "curl/7.38.0", *r.UserAgent)
	assert.Equal(t, 2015, r.Time().Year())

	code, ok := r.ELBStatusCode.Int64()
	assert.True(t, ok)
	assert.EqualValues(t, 200, code)
}

func TestParse_BestEffortCoercion(t *testing.T) {
	recs, err := Parse([]byte(row502), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	_, ok := r.BackendStatusCode.Int64()
	assert.False(t, ok)
	assert.Equal(t, "-", r.BackendStatusCode.Raw())
	assert.False(t, r.BackendStatusCode.IsNull())

	code, ok := r.ELBStatusCode.Int64()
	assert.True(t, ok)
	assert.EqualValues(t, 502, code)
	assert.True(t, r.ServerError())
}

func TestParse_OldFormatHasNullTrailingFields(t *testing.T) {
	recs, err := Parse([]byte(rowOld), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Nil(t, r.UserAgent)
	assert.Nil(t, r.SSLCipher)
	assert.Nil(t, r.SSLProtocol)

	line, err := r.Render()
	require.NoError(t, err)
	assert.Contains(t, line, `"" "-" {`)
	assert.Contains(t, line, `"user_agent":null,"ssl_cipher":null,"ssl_protocol":null`)
}

func TestParse_ParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		row   string
		field string
		want  error
	}{
		{
			name:  "client without port",
			row:   `2015-05-13T23:39:43.945958Z lb 10.0.0.1 - 0 0 0 200 200 0 1 "GET / HTTP/1.1"`,
			field: "client",
			want:  ErrMalformed,
		},
		{
			name:  "request with two parts",
			row:   `2015-05-13T23:39:43.945958Z lb 10.0.0.1:1 - 0 0 0 200 200 0 1 "GET /"`,
			field: "request",
			want:  ErrMalformed,
		},
		{
			name:  "request missing",
			row:   `2015-05-13T23:39:43.945958Z lb 10.0.0.1:1 - 0 0 0 200 200 0 1`,
			field: "request",
			want:  ErrMissingField,
		},
		{
			name:  "client missing",
			row:   `2015-05-13T23:39:43.945958Z lb`,
			field: "client",
			want:  ErrMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(rowOK+"\n"+tt.row), Options{})
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.field, perr.Field)
			assert.Equal(t, 2, perr.Line)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_BadTimestamp(t *testing.T) {
	_, err := Parse([]byte(`yesterday lb 10.0.0.1:1 - 0 0 0 200 200 0 1 "GET / HTTP/1.1"`), Options{})

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "timestamp", perr.Field)
	assert.Equal(t, "yesterday", perr.Value)
}

func TestTransform_OneLinePerRow(t *testing.T) {
	raw := strings.Join([]string{rowOK, row502, row404, rowOld}, "\n") + "\n"

	lines, err := Transform([]byte(raw), Options{})
	require.NoError(t, err)
	assert.Len(t, lines, 4)
}

func TestTransform_OnlyErrorsKeepsOrder(t *testing.T) {
	second503 := strings.Replace(row502, " 502 ", " 503 ", 1)
	raw := strings.Join([]string{rowOK, row502, row404, second503}, "\n")

	lines, err := Transform([]byte(raw), Options{OnlyErrors: true})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `" 502 0 "`)
	assert.Contains(t, lines[1], `" 503 0 "`)
}

func TestReader_SkipsBlankLinesAndCR(t *testing.T) {
	raw := "\r\n" + rowOK + "\r\n\n" + row404 + "\r\n"

	rd := NewReader(strings.NewReader(raw), Options{OnlyErrors: true})
	recs := 0
	for {
		_, err := rd.Next()
		if err != nil {
			break
		}
		recs++
	}
	assert.Zero(t, recs)
	assert.Equal(t, 2, rd.Skipped())
	assert.Equal(t, 4, rd.Line())
}

func TestRender_Format(t *testing.T) {
	recs, err := Parse([]byte(rowOK), Options{})
	require.NoError(t, err)

	line, err := recs[0].Render()
	require.NoError(t, err)

	wantSummary := `10.0.0.1 my-lb - [13/May/2015:23:39:43 +0000] "GET /x HTTP/1.1" 200 57 "" "curl/7.38.0" `
	wantJSON := `{"timestamp":"2015-05-13T23:39:43.945958Z","elb":"my-lb","backend":"10.0.1.5:80",` +
		`"request_processing_time":"0.000086","backend_processing_time":"0.001048","response_processing_time":"0.001337",` +
		`"elb_status_code":200,"backend_status_code":200,"received_bytes":0,"sent_bytes":57,` +
		`"user_agent":"curl/7.38.0","ssl_cipher":"DHE-RSA-AES128-SHA","ssl_protocol":"TLSv1.2",` +
		`"client_ip":"10.0.0.1","client_port":"4321","http_method":"GET","request_uri":"/x","http_version":"HTTP/1.1"}`

	assert.Equal(t, wantSummary, recs[0].Summary())
	assert.Equal(t, wantSummary+wantJSON, line)
}

func TestRender_EmptyUserAgentIsDash(t *testing.T) {
	recs, err := Parse([]byte(row404), Options{})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(recs[0].Summary(), ` 404 120 "" "-" `))
}

func TestRender_StructuredHalfRoundTrip(t *testing.T) {
	recs, err := Parse([]byte(rowOK+"\n"+row502), Options{})
	require.NoError(t, err)

	for _, r := range recs {
		line, err := r.Render()
		require.NoError(t, err)

		structured := strings.TrimPrefix(line, r.Summary())
		var back Record
		require.NoError(t, json.Unmarshal([]byte(structured), &back))

		for _, pair := range [][2]Number{
			{r.ELBStatusCode, back.ELBStatusCode},
			{r.BackendStatusCode, back.BackendStatusCode},
			{r.ReceivedBytes, back.ReceivedBytes},
			{r.SentBytes, back.SentBytes},
		} {
			want, wantOK := pair[0].Int64()
			got, gotOK := pair[1].Int64()
			assert.Equal(t, wantOK, gotOK)
			assert.Equal(t, want, got)
			assert.Equal(t, pair[0].String(), pair[1].String())
		}
	}
}

func TestNumber_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   Number
		want string
	}{
		{"int", IntNumber(4096), `4096`},
		{"raw", ParseNumber(ptr("-")), `"-"`},
		{"null", ParseNumber(nil), `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func ptr(s string) *string { return &s }
