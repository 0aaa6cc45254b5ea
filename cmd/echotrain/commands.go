package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/echotrain/internal/api"
	"github.com/kalambet/echotrain/internal/chat"
	"github.com/kalambet/echotrain/internal/config"
	"github.com/kalambet/echotrain/internal/storage"
)

// --- dataset ---

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Upload, inspect and export training datasets",
}

var datasetUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload and validate a dataset file",
	Long: `Upload and validate a dataset file.

The format is taken from the file extension unless --format is given:
.csv is csv, .json is json, .yml and .yaml are structured-yaml.

Examples:
  echotrain dataset upload ./nlu.yml
  echotrain dataset upload ./export.txt --format csv -w shop`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = formatFromExtension(path)
		}
		if format == "" {
			return fmt.Errorf("cannot infer format of %s; pass --format csv|json|structured-yaml", path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		out, err := uploadDataset(cmd.Context(), client, filepath.Base(path), format, data)
		if err != nil {
			return err
		}
		reportUpload(out)
		return nil
	},
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets in the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), workspacePath("/datasets"))
		if err != nil {
			return err
		}
		var datasets []api.DatasetView
		if err := decodeJSON(resp, &datasets); err != nil {
			return err
		}
		if len(datasets) == 0 {
			fmt.Println("No datasets.")
			return nil
		}
		for _, d := range datasets {
			fmt.Printf("%s  %-10s  %4d samples  %s\n", d.ID, d.Status, d.SampleCount, d.Filename)
		}
		return nil
	},
}

var datasetShowCmd = &cobra.Command{
	Use:   "show <dataset-id>",
	Short: "Show a dataset and its validation report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), workspacePath("/datasets/%s", url.PathEscape(args[0])))
		if err != nil {
			return err
		}
		var d api.DatasetView
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		return printJSON(os.Stdout, d)
	},
}

var datasetExportCmd = &cobra.Command{
	Use:   "export <dataset-id>",
	Short: "Export the normalized corpus as JSON or structured YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := exportCorpus(cmd.Context(), client, args[0], format, w); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Corpus exported to %s", output)
		}
		return nil
	},
}

var datasetRevalidateCmd = &cobra.Command{
	Use:   "revalidate <dataset-id>",
	Short: "Re-run validation on a dataset's stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), workspacePath("/datasets/%s/revalidate", url.PathEscape(args[0])), nil)
		if err != nil {
			return err
		}
		var out api.UploadView
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		reportUpload(out)
		return nil
	},
}

func init() {
	datasetUploadCmd.Flags().String("format", "", "csv, json or structured-yaml (default: from file extension)")
	datasetExportCmd.Flags().String("format", "json", "json or yaml")
	datasetExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	datasetCmd.AddCommand(datasetUploadCmd, datasetListCmd, datasetShowCmd, datasetExportCmd, datasetRevalidateCmd)
}

func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".json":
		return "json"
	case ".yml", ".yaml":
		return "structured-yaml"
	}
	return ""
}

func uploadDataset(ctx context.Context, client *apiClient, filename, format string, data []byte) (api.UploadView, error) {
	resp, err := client.post(ctx, workspacePath("/datasets"), api.UploadRequest{
		Filename: filename,
		Format:   format,
		Content:  base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return api.UploadView{}, err
	}
	var out api.UploadView
	if err := decodeJSON(resp, &out); err != nil {
		return api.UploadView{}, err
	}
	return out, nil
}

func reportUpload(out api.UploadView) {
	d := out.Dataset
	if d.Status == "validated" {
		printSuccess("Dataset %s validated: %d samples, intents %s, entities %s",
			d.ID, d.SampleCount, strings.Join(d.Intents, ", "), listOrNone(d.Entities))
	} else {
		printError("Dataset %s failed validation", d.ID)
		for _, line := range d.ValidationReport {
			fmt.Fprintf(os.Stderr, "    %s\n", line)
		}
	}
	for _, w := range d.Warnings {
		printWarning("%s", w)
	}
}

func listOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}

func exportCorpus(ctx context.Context, client *apiClient, datasetID, format string, w io.Writer) error {
	path := workspacePath("/datasets/%s/corpus", url.PathEscape(datasetID))
	if format != "" && format != "json" {
		path += "?format=" + url.QueryEscape(format)
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	dropped := resp.Header.Get(api.DroppedEntitiesHeader)
	body, err := readBody(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if dropped != "" {
		printWarning("%s entity annotation(s) could not be written inline and were left out of the YAML", dropped)
	}
	return nil
}

// --- annotation ---

var annotationCmd = &cobra.Command{
	Use:   "annotation",
	Short: "Record and list hand-labelled examples",
}

var annotationEntities []string

var annotationAddCmd = &cobra.Command{
	Use:   "add <intent> <text>",
	Short: "Save an annotated example",
	Long: `Save an annotated example.

Entities are given as name=start:end byte offsets into the text, as
reported by POST /tokenize, e.g. --entity city=8:14.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.AnnotationRequest{Intent: args[0], Text: args[1]}
		for _, raw := range annotationEntities {
			e, err := parseEntityFlag(raw)
			if err != nil {
				return err
			}
			req.Entities = append(req.Entities, e)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ann, err := saveAnnotation(cmd.Context(), client, req)
		if err != nil {
			return err
		}
		printSuccess("Annotation %s saved (%s, %d entities)", ann.ID, ann.Intent, len(ann.Entities))
		return nil
	},
}

var annotationListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the workspace's annotations as a json dataset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listAnnotations(cmd.Context(), client, os.Stdout)
	},
}

func init() {
	annotationAddCmd.Flags().StringArrayVar(&annotationEntities, "entity", nil, "entity span as name=start:end (repeatable)")
	annotationCmd.AddCommand(annotationAddCmd, annotationListCmd)
}

func parseEntityFlag(raw string) (storage.AnnotatedEntity, error) {
	name, span, ok := strings.Cut(raw, "=")
	if !ok || name == "" {
		return storage.AnnotatedEntity{}, fmt.Errorf("entity %q: want name=start:end", raw)
	}
	from, to, ok := strings.Cut(span, ":")
	if !ok {
		return storage.AnnotatedEntity{}, fmt.Errorf("entity %q: want name=start:end", raw)
	}
	start, err := strconv.Atoi(from)
	if err != nil {
		return storage.AnnotatedEntity{}, fmt.Errorf("entity %q: bad start: %w", raw, err)
	}
	end, err := strconv.Atoi(to)
	if err != nil {
		return storage.AnnotatedEntity{}, fmt.Errorf("entity %q: bad end: %w", raw, err)
	}
	return storage.AnnotatedEntity{Entity: name, Start: start, End: end}, nil
}

func saveAnnotation(ctx context.Context, client *apiClient, req api.AnnotationRequest) (api.AnnotationView, error) {
	resp, err := client.post(ctx, workspacePath("/annotations"), req)
	if err != nil {
		return api.AnnotationView{}, err
	}
	var out api.AnnotationView
	if err := decodeJSON(resp, &out); err != nil {
		return api.AnnotationView{}, err
	}
	return out, nil
}

// listAnnotations writes the annotations as an indented json array that
// "dataset upload" accepts unchanged.
func listAnnotations(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.get(ctx, workspacePath("/annotations"))
	if err != nil {
		return err
	}
	var anns []api.AnnotationView
	if err := decodeJSON(resp, &anns); err != nil {
		return err
	}
	data, err := json.MarshalIndent(anns, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// --- train / job ---

var trainCmd = &cobra.Command{
	Use:   "train <dataset-id>",
	Short: "Start a training job for a validated dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), workspacePath("/datasets/%s/train", url.PathEscape(args[0])), nil)
		if err != nil {
			return err
		}
		var job api.JobView
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Training job %s queued", job.ID)
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect training jobs",
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a training job's status, progress and log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), workspacePath("/jobs/%s", url.PathEscape(args[0])))
		if err != nil {
			return err
		}
		var job api.JobView
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printJob(job)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list <dataset-id>",
	Short: "List a dataset's training jobs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), workspacePath("/datasets/%s/jobs", url.PathEscape(args[0])))
		if err != nil {
			return err
		}
		var jobs []api.JobView
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No training jobs.")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("%s  %-9s  %3.0f%%  %s\n", j.ID, j.Status, j.Progress*100, j.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobShowCmd, jobListCmd)
}

func printJob(j api.JobView) {
	printStatus("Job", "%s", j.ID)
	printStatus("Dataset", "%s", j.DatasetID)
	printStatus("Status", "%s", j.Status)
	printStatus("Progress", "%.0f%%", j.Progress*100)
	if j.ModelPath != "" {
		printStatus("Model", "%s", j.ModelPath)
	}
	if j.Log != "" {
		fmt.Fprintln(os.Stderr, colorize(colorBold, "  Log:"))
		for _, line := range strings.Split(j.Log, "\n") {
			fmt.Fprintf(os.Stderr, "    %s\n", line)
		}
	}
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the workspace assistant",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), workspacePath("/chat"), api.ChatRequest{Message: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var reply chat.Response
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}
		fmt.Println(reply.Text)
		source := "rule engine"
		if reply.ModelUsed {
			source = "model " + reply.ModelPath
		}
		fmt.Fprintln(os.Stderr, colorize(colorCyan, fmt.Sprintf("[%s via %s]", reply.Intent, source)))
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
