package overlay

import (
	"html/template"
	"testing"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID string `json:"id"`
}

func TestDecode(t *testing.T) {
	records, err := Decode[record]([]byte(`[{"id":"a"},{"id":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = Decode[record]([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = Decode[record]([]byte(`{"error":"upstream"}`))
	assert.Error(t, err)
}

func TestOptions_Label(t *testing.T) {
	o := Options{Labels: config.Text{"parking.name": "Parcare"}, Messages: config.Text{"route.error.unabletodetermine": "No route"}}
	assert.Equal(t, "Parcare", o.Label("parking.name"))
	assert.Equal(t, "parking.number", o.Label("parking.number"))
	assert.Equal(t, "No route", o.Message("route.error.unableToDetermine"))
	assert.Equal(t, "", o.Message("missing"))
}

func TestOptions_Time(t *testing.T) {
	o := Options{}
	assert.Equal(t, "", o.Time(time.Time{}))
	assert.Equal(t, "Fri, 16 Oct 2026 09:05", o.Time(time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC)))
}

func TestRender_Escapes(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`<p>{{.}}</p>`))
	assert.Equal(t, "<p>&lt;b&gt;</p>", Render(tmpl, "<b>"))
}

func TestNumberAndFill(t *testing.T) {
	assert.Equal(t, "40", Number(40))
	assert.Equal(t, "12.5", Number(12.5))
	assert.Equal(t, "5 min ago", Fill("{{TIME}} min ago", "TIME", "5"))
}
