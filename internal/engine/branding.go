package engine

import (
	"bytes"
	htmltemplate "html/template"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/model"
	"github.com/widgetapps/iiot-worker-mqtt-alerts/internal/telemetry"
)

type Brand struct {
	Name      string
	FromEmail string
	FromName  string
	ReplyTo   string
	SMSPrefix string
}

// Branding picks a brand by asset type, falling back to Default.
type Branding struct {
	Default     Brand
	ByAssetType map[string]Brand
}

func DefaultBranding() Branding {
	return Branding{
		Default: Brand{
			Name:      "ONE Platform",
			FromEmail: "alerts@terepac.one",
			FromName:  "ONE Platform Alerts",
			ReplyTo:   "support@terepac.one",
			SMSPrefix: "ONE",
		},
	}
}

func (b Branding) For(assetType string) Brand {
	if br, ok := b.ByAssetType[strings.ToLower(strings.TrimSpace(assetType))]; ok {
		return br
	}
	return b.Default
}

// Content is the rendered notification text for one alert round.
type Content struct {
	Brand   Brand
	Subject string
	Text    string
	HTML    string
	SMS     string
}

type contentData struct {
	Brand     Brand
	TagCode   string
	AssetName string
	AssetType string
	Kind      string
	Code      string
	Direction Direction
	Value     string
	Limit     string
	Low       string
	High      string
	At        string
	AlertID   string
}

var (
	subjectTmpl = template.Must(template.New("subject").Parse(
		`{{if .TagCode}}[{{.TagCode}}] {{end}}{{.Brand.Name}} alert: {{.AssetName}} {{.Kind}} {{.Direction}}`))

	smsTmpl = template.Must(template.New("sms").Parse(
		`{{if .Brand.SMSPrefix}}{{.Brand.SMSPrefix}} {{end}}{{if .TagCode}}[{{.TagCode}}] {{end}}{{.AssetName}}: {{.Kind}} {{.Value}} is {{if eq .Direction "minimum"}}below the minimum of{{else}}above the maximum of{{end}} {{.Limit}} ({{.At}})`))

	textTmpl = template.Must(template.New("text").Parse(`{{.Brand.Name}} alert{{if .TagCode}} for {{.TagCode}}{{end}}

Asset:     {{.AssetName}}{{if .AssetType}} ({{.AssetType}}){{end}}
Sensor:    {{.Kind}} ({{.Code}})
Reading:   {{.Value}}
Breach:    {{.Direction}} limit {{.Limit}}
Limits:    {{.Low}} to {{.High}}
Time:      {{.At}}
Alert ID:  {{.AlertID}}
`))

	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Brand.Name}} alert</title></head>
<body style="font-family: -apple-system, Segoe UI, Roboto, sans-serif; color: #1f2933;">
  <h2 style="margin-bottom: 4px;">{{.Brand.Name}} alert{{if .TagCode}} &middot; {{.TagCode}}{{end}}</h2>
  <p style="margin-top: 0; color: #52606d;">{{.AssetName}} reported a {{.Direction}} breach on {{.Kind}}.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><strong>Asset</strong></td><td>{{.AssetName}}{{if .AssetType}} ({{.AssetType}}){{end}}</td></tr>
    <tr><td><strong>Sensor</strong></td><td>{{.Kind}} ({{.Code}})</td></tr>
    <tr><td><strong>Reading</strong></td><td>{{.Value}}</td></tr>
    <tr><td><strong>Limit</strong></td><td>{{.Direction}} {{.Limit}}</td></tr>
    <tr><td><strong>Range</strong></td><td>{{.Low}} to {{.High}}</td></tr>
    <tr><td><strong>Time</strong></td><td>{{.At}}</td></tr>
  </table>
  <p style="color: #9aa5b1; font-size: 12px;">Alert ID {{.AlertID}}</p>
</body>
</html>
`))
)

func formatNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Render builds the subject and bodies for a breach of alert on asset.
func (b Branding) Render(asset model.Asset, client model.Client, alert model.Alert, r telemetry.Reading, br Breach) (Content, error) {
	brand := b.For(asset.Type)
	data := contentData{
		Brand:     brand,
		TagCode:   client.TagCode,
		AssetName: asset.Name,
		AssetType: asset.Type,
		Kind:      r.Kind,
		Code:      r.SensorCode,
		Direction: br.Direction,
		Value:     formatNumber(br.Value),
		Limit:     formatNumber(br.Limit),
		Low:       formatNumber(alert.Limits.Low),
		High:      formatNumber(alert.Limits.High),
		At:        r.Timestamp.UTC().Format(time.RFC3339),
		AlertID:   alert.ID,
	}
	if data.AssetName == "" {
		data.AssetName = r.DeviceID
	}

	c := Content{Brand: brand}
	var buf bytes.Buffer
	if err := subjectTmpl.Execute(&buf, data); err != nil {
		return Content{}, err
	}
	c.Subject = buf.String()

	buf.Reset()
	if err := smsTmpl.Execute(&buf, data); err != nil {
		return Content{}, err
	}
	c.SMS = buf.String()

	buf.Reset()
	if err := textTmpl.Execute(&buf, data); err != nil {
		return Content{}, err
	}
	c.Text = buf.String()

	buf.Reset()
	if err := htmlTmpl.Execute(&buf, data); err != nil {
		return Content{}, err
	}
	c.HTML = buf.String()
	return c, nil
}
