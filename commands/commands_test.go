package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/sheetsync/sheetsync/grid"
	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/retry"
	"github.com/sheetsync/sheetsync/runner"
	"github.com/sheetsync/sheetsync/status"
	"github.com/sheetsync/sheetsync/table"
)

// fakeSheets serves just enough of the Sheets v4 REST API for the get and put commands.
type fakeSheets struct {
	sync.Mutex
	values  [][]any
	updates map[string][][]any
	order   []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v4/spreadsheets/abc":
		fmt.Fprint(w, `{"spreadsheetId":"abc","sheets":[{"properties":{"sheetId":0,"title":"Carteira","gridProperties":{"rowCount":1000,"columnCount":26}}}]}`)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/abc/values/"):
		json.NewEncoder(w).Encode(map[string]any{"values": f.values})

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/abc/values/"):
		var body struct {
			Values [][]any `json:"values"`
		}

		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &body)

		area := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/abc/values/")
		f.updates[area] = body.Values
		f.order = append(f.order, area)

		fmt.Fprint(w, `{}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func newClient(t *testing.T, fake *fakeSheets) *gsheets.Client {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1

	client, err := gsheets.New(context.Background(), gsheets.Config{Policy: policy},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication())

	require.NoError(t, err)

	return client
}

func TestGet(t *testing.T) {
	expected := "Nome\tValor\nAna\t1.234,56\nBruno\t10\n"

	fake := fakeSheets{
		values: [][]any{
			{"Nome", "Valor"},
			{"Ana", "1.234,56"},
			{"Bruno", "10"},
		},
	}

	file := filepath.Join(t.TempDir(), "export", "carteira.tsv")
	cmd := Get{area: "Carteira!A1:B", file: file}

	require.NoError(t, cmd.get(context.Background(), newClient(t, &fake), "abc"))

	b, err := os.ReadFile(file)
	require.NoError(t, err)

	if string(b) != expected {
		t.Errorf("Incorrect TSV\n   expected: %q\n   got:      %q", expected, string(b))
	}

	entries, _ := os.ReadDir(filepath.Dir(file))
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestGetEmptyRange(t *testing.T) {
	fake := fakeSheets{}
	cmd := Get{area: "Carteira!A1:B", file: filepath.Join(t.TempDir(), "carteira.tsv")}

	err := cmd.get(context.Background(), newClient(t, &fake), "abc")
	assert.ErrorContains(t, err, "no data")
}

func TestPut(t *testing.T) {
	fake := fakeSheets{updates: map[string][][]any{}}
	cmd := Put{file: "carteira.tsv", chunkRows: 2}

	tsv := "Nome\tValor\tData\nAna\t1.234,56\t01/03/2025\nBruno\t10\t02/03/2025\nCarla\t0,5\t03/03/2025\n"
	t1, err := table.ReadTSV(strings.NewReader(tsv))
	require.NoError(t, err)

	area, _ := grid.ParseRange("Carteira!A1:C")

	require.NoError(t, cmd.put(context.Background(), newClient(t, &fake), "abc", area, t1))

	expected := []string{"Carteira!A1:C1", "Carteira!A2:C3", "Carteira!A4:C4"}
	if !reflect.DeepEqual(fake.order, expected) {
		t.Errorf("Incorrect updates\n   expected: %v\n   got:      %v", expected, fake.order)
	}

	assert.Equal(t, [][]any{{"Nome", "Valor", "Data"}}, fake.updates["Carteira!A1:C1"])
	assert.Equal(t, [][]any{{"Carla", "0,5", "03/03/2025"}}, fake.updates["Carteira!A4:C4"])
}

func TestRequiredOptions(t *testing.T) {
	tests := []struct {
		name    string
		execute func() error
		message string
	}{
		{"get without url", func() error { return (&Get{area: "A!A1", file: "x.tsv"}).Execute(context.Background(), &Options{}) }, "--url"},
		{"get without range", func() error { return (&Get{url: "abc", file: "x.tsv"}).Execute(context.Background(), &Options{}) }, "--range"},
		{"put without file", func() error { return (&Put{url: "abc", area: "A!A1"}).Execute(context.Background(), &Options{}) }, "--file"},
		{"put without worksheet", func() error {
			return (&Put{url: "abc", area: "A1:C", file: "x.tsv"}).Execute(context.Background(), &Options{})
		}, "worksheet"},
		{"replicate without job", func() error { return (&Replicate{}).Execute(context.Background(), &Options{}) }, "--job"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.ErrorContains(t, test.execute(), test.message)
		})
	}
}

func TestPrintStatus(t *testing.T) {
	stages := []runner.Stage{
		{
			Name: "update",
			Steps: []runner.Step{
				{ID: "carteira", Key: 7},
				{ID: "ciclo", Key: 8},
			},
		},
		{
			Name:  "replicate",
			Mode:  runner.Sequential,
			Steps: []runner.Step{{ID: "replicate-1"}},
		},
	}

	statuses := map[status.Key]status.Status{
		7: status.OK,
		8: status.Failed,
	}

	var b bytes.Buffer
	printStatus(&b, stages, statuses)

	expected := strings.Join([]string{
		"STAGE        STEP                     ROW  STATUS",
		"update       carteira                 7    ok",
		"update       ciclo                    8    failed",
		"replicate    replicate-1              -    -",
		"",
	}, "\n")

	if b.String() != expected {
		t.Errorf("Incorrect status output\n   expected:\n%v\n   got:\n%v", expected, b.String())
	}
}

func TestVersion(t *testing.T) {
	var b bytes.Buffer

	cmd := VersionCmd.Command(&Options{})
	cmd.SetOut(&b)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, VERSION+"\n", b.String())
}
