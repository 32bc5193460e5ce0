package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geosandbox/internal/bridge"
	"github.com/mohammed-shakir/geosandbox/internal/core/config"
	"github.com/mohammed-shakir/geosandbox/internal/core/model"
)

type runFlags struct {
	layers    []string
	selected  string
	bounds    string
	isolation string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run SCRIPT",
		Short: "Run one script against local GeoJSON files and print the result",
		Example: `  geosandbox run buffer.js --layer parcels.geojson --layer roads=roads.geojson
  geosandbox run - --bounds 11.9,57.6,12.1,57.8 < script.js`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Sandbox.Isolation = f.isolation
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := newLogger(cfg, "run", cmd.ErrOrStderr())

			script, err := readScript(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			ectx, err := f.context()
			if err != nil {
				return err
			}

			tr, err := newTransport(cfg, log)
			if err != nil {
				return err
			}
			b, err := bridge.New(tr, bridgeOptions(cfg, log))
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			res, err := b.Execute(cmd.Context(), script, ectx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("script failed (%s): %s", res.Error.Kind, res.Error.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&f.layers, "layer", nil, "GeoJSON layer file, optionally NAME=PATH (repeatable)")
	cmd.Flags().StringVar(&f.selected, "selected", "", "GeoJSON file with the selected features")
	cmd.Flags().StringVar(&f.bounds, "bounds", "", "map bounds as west,south,east,north")
	cmd.Flags().StringVar(&f.isolation, "isolation", config.IsolationInProcess, "sandbox isolation: inprocess or subprocess")
	return cmd
}

func readScript(arg string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if arg == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(filepath.Clean(arg))
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

func (f runFlags) context() (model.ExecutionContext, error) {
	ectx := model.ExecutionContext{Layers: []model.Layer{}, SelectedFeatures: []model.Feature{}}
	for i, arg := range f.layers {
		name, path, ok := strings.Cut(arg, "=")
		if !ok {
			path = arg
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		fs, err := readFeatures(path)
		if err != nil {
			return model.ExecutionContext{}, err
		}
		ectx.Layers = append(ectx.Layers, model.Layer{
			ID:   "layer-" + strconv.Itoa(i+1),
			Name: name,
			Data: model.FeatureCollection{Features: fs},
		})
	}
	if f.selected != "" {
		fs, err := readFeatures(f.selected)
		if err != nil {
			return model.ExecutionContext{}, err
		}
		ectx.SelectedFeatures = fs
	}
	if f.bounds != "" {
		bb, err := parseBounds(f.bounds)
		if err != nil {
			return model.ExecutionContext{}, err
		}
		ectx.MapBounds = &bb
	}
	return ectx, nil
}

func readFeatures(path string) ([]model.Feature, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fs, _, err := model.DecodeGeoJSON(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return fs, nil
}

func parseBounds(s string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, fmt.Errorf("bounds: expected west,south,east,north")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bounds: %w", err)
		}
		v[i] = f
	}
	bb := model.BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	if err := bb.Validate(); err != nil {
		return model.BBox{}, fmt.Errorf("bounds: %w", err)
	}
	return bb, nil
}

