package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	importservice "github.com/FACorreiaa/subscription-tracker/internal/domain/import/service"
)

const spotifyCSV = "Datum,Verwendungszweck,Betrag\n" +
	"01.01.2025,Spotify AB,\"9,99\"\n" +
	"01.02.2025,Spotify AB,\"9,99\"\n" +
	"01.03.2025,Spotify AB,\"9,99\"\n"

func writeStatement(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := detectCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDetect_Table(t *testing.T) {
	path := writeStatement(t, "umsaetze.csv", spotifyCSV)

	out, err := execute(t, path)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Spotify")
	assert.Contains(t, out, "9.99 EUR")
	assert.Contains(t, out, "1 candidates from 3 transactions")
}

func TestDetect_JSON(t *testing.T) {
	path := writeStatement(t, "umsaetze.csv", spotifyCSV)

	out, err := execute(t, path, "-o", "json")
	require.NoError(t, err)

	var preview importservice.Preview
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Equal(t, importservice.OutcomeCandidatesFound, preview.Outcome)
	require.Len(t, preview.Candidates, 1)
	assert.Equal(t, "spotify", preview.Candidates[0].ProviderID)
}

func TestDetect_CSV(t *testing.T) {
	path := writeStatement(t, "umsaetze.csv", spotifyCSV)

	out, err := execute(t, path, "--output", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "name,provider_id,category,price,currency,interval,next_payment_date")
	assert.Contains(t, out, "Spotify,spotify,Music,9.99,EUR,monthly,")
}

func TestDetect_ColumnFlags(t *testing.T) {
	path := writeStatement(t, "export.csv", "Datum;Info;Summe\n"+
		"15.01.2025;Zorblax Hosting;12,00\n"+
		"15.02.2025;Zorblax Hosting;12,00\n"+
		"15.03.2025;Zorblax Hosting;12,00\n")

	out, err := execute(t, path)
	require.NoError(t, err)
	assert.Contains(t, out, "Could not identify columns: description, amount")

	out, err = execute(t, path, "--description-col", "Info", "--amount-col", "Summe")
	require.NoError(t, err)
	assert.Contains(t, out, "zorblax hosting")
}

func TestDetect_Errors(t *testing.T) {
	path := writeStatement(t, "umsaetze.csv", spotifyCSV)

	_, err := execute(t, path, "-o", "yaml")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = execute(t, filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = execute(t, path, "--max-bytes", "10")
	assert.ErrorIs(t, err, importservice.ErrFileTooLarge)
}
