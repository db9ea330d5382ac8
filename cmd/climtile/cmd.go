package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/aoi"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/fetch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/grid"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/csv"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/geotiff"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/registry"
	"github.com/Global-Water-Security-Center/data-exploration/internal/config"
	"github.com/Global-Water-Security-Center/data-exploration/internal/dispatch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
	"github.com/Global-Water-Security-Center/data-exploration/internal/usecase"
)

// These variables hold the command-line flags.
var (
	// envFile is loaded into the environment before the configuration is
	// read.
	envFile string

	// outDir overrides OUT_DIR.
	outDir string

	// workers overrides WORKERS when positive.
	workers int

	// mode is the dispatch mode: fail-fast or best-effort.
	mode string

	// progress shows progress bars on stderr.
	progress bool

	// Conversion options.
	variables []string
	bandField string
	nodata    float64
	wrap180   bool
	aoiPath   string
	bounds    []float64
	xNames    []string
	yNames    []string

	// Daily pipeline options.
	variable     string
	pattern      string
	scenario     string
	model        string
	variant      string
	zipYears     bool
	files        int
	seed         int64
	removeSource bool

	// Raster calculator output.
	target string

	// Point series location.
	lat, lon float64

	// Rename options.
	newDate string
	apply   bool

	// listCached lists the recorded files of a dataset instead of fetching.
	listCached bool

	// Drought table options.
	droughtVar         string
	startDate, endDate string
)

// cfg is loaded by Root before any subcommand runs.
var cfg *config.Config

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(convertCmd)
	Root.AddCommand(dailyCmd)
	Root.AddCommand(cmip6Cmd)
	Root.AddCommand(fetchCmd)
	Root.AddCommand(infoCmd)
	Root.AddCommand(averageCmd)
	Root.AddCommand(subtractCmd)
	Root.AddCommand(seriesCmd)
	Root.AddCommand(renameCmd)
	Root.AddCommand(droughtCmd)

	// Create the configuration flags.
	Root.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file loaded before the configuration is read")
	Root.PersistentFlags().StringVar(&outDir, "out", "", "output directory (default: $OUT_DIR)")
	Root.PersistentFlags().IntVar(&workers, "workers", 0, "concurrent tile writers (default: $WORKERS)")
	Root.PersistentFlags().StringVar(&mode, "mode", dispatch.BestEffort.String(),
		"how failures are handled: fail-fast stops at the first failed tile, "+
			"best-effort writes every tile it can and reports the failures")
	Root.PersistentFlags().BoolVar(&progress, "progress", false, "show progress bars")

	for _, c := range []*cobra.Command{convertCmd, dailyCmd, cmip6Cmd} {
		c.Flags().Float64Var(&nodata, "nodata", 0, "nodata value written to the tiles (default: the variable's fill value)")
		c.Flags().BoolVar(&wrap180, "wrap180", false, "roll a 0..360 longitude axis to -180..180")
	}
	for _, c := range []*cobra.Command{convertCmd, dailyCmd, seriesCmd, droughtCmd} {
		c.Flags().StringSliceVar(&xNames, "x-names", grid.DefaultCandidates.X, "candidate names of the X coordinate")
		c.Flags().StringSliceVar(&yNames, "y-names", grid.DefaultCandidates.Y, "candidate names of the Y coordinate")
	}

	convertCmd.Flags().StringSliceVar(&variables, "var", nil, "variables to convert (default: every data variable)")
	convertCmd.Flags().StringVar(&bandField, "band-field", "", "dimension kept as raster bands")
	convertCmd.Flags().StringVar(&aoiPath, "aoi", "", "shapefile whose bounding box limits the written window")
	convertCmd.Flags().Float64SliceVar(&bounds, "bounds", nil, "minx,miny,maxx,maxy limiting the written window")

	for _, c := range []*cobra.Command{dailyCmd, cmip6Cmd} {
		c.Flags().StringVar(&pattern, "pattern", usecase.CMIP6Pattern, "target path pattern relative to --out")
		c.Flags().BoolVar(&zipYears, "zip", false, "bundle each year's tiles into one zip archive")
	}
	dailyCmd.Flags().StringVar(&variable, "var", "", "variable to convert")
	dailyCmd.Flags().StringVar(&scenario, "scenario", "", "value of {scenario} in the pattern")
	dailyCmd.Flags().StringVar(&model, "model", "", "value of {model} in the pattern")
	dailyCmd.Flags().StringVar(&variant, "variant", "", "value of {variant} in the pattern")
	_ = dailyCmd.MarkFlagRequired("var")

	cmip6Cmd.Flags().IntVar(&files, "files", 1, "files downloaded and converted concurrently")
	cmip6Cmd.Flags().Int64Var(&seed, "seed", 1, "seed for shuffling the download list")
	cmip6Cmd.Flags().BoolVar(&removeSource, "remove-source", false, "delete each downloaded file once its tiles are written")

	fetchCmd.Flags().BoolVar(&listCached, "list", false, "list the files already fetched for the dataset")

	for _, c := range []*cobra.Command{averageCmd, subtractCmd} {
		c.Flags().StringVar(&target, "target", "", "output raster path")
		_ = c.MarkFlagRequired("target")
	}

	seriesCmd.Flags().StringVar(&variable, "var", "", "variable to sample")
	seriesCmd.Flags().Float64Var(&lat, "lat", 0, "latitude of the point")
	seriesCmd.Flags().Float64Var(&lon, "lon", 0, "longitude of the point")
	_ = seriesCmd.MarkFlagRequired("var")

	droughtCmd.Flags().StringVar(&droughtVar, "var", "drought", "variable holding the drought category of each pixel")
	droughtCmd.Flags().StringVar(&aoiPath, "aoi", "", "shapefile of the area of interest")
	droughtCmd.Flags().StringVar(&startDate, "start", "", "first date, YYYY-MM-DD")
	droughtCmd.Flags().StringVar(&endDate, "end", "", "last date, YYYY-MM-DD")
	_ = droughtCmd.MarkFlagRequired("aoi")

	renameCmd.Flags().StringVar(&newDate, "new-date", "", "replacement date, YYYYMMDD")
	renameCmd.Flags().BoolVar(&apply, "rename", false, "rename the files instead of only listing them")
	_ = renameCmd.MarkFlagRequired("new-date")
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "climtile",
	Short: "Convert climate netCDF datasets to GeoTIFF tiles.",
	Long: `climtile converts gridded climate datasets (netCDF) into GeoTIFF tiles,
one tile per combination of the non-spatial coordinates. Use the subcommands
below to convert files, run the daily CMIP6 pipeline, fetch registered
datasets, and combine rasters.

Settings are read from the environment and the --env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		if outDir != "" {
			cfg.OutDir = outDir
		}
		if workers > 0 {
			cfg.Workers = workers
		}
		cfg.Log()
		return nil
	},
	DisableAutoGenTag: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of climtile.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("climtile v%s\n", version)
	},
	DisableAutoGenTag: true,
}

// convertCmd writes one tile per variable and selector.
var convertCmd = &cobra.Command{
	Use:   "convert <file or glob>...",
	Short: "Convert netCDF files to GeoTIFF tiles",
	Long: `convert writes one GeoTIFF per data variable and per combination of the
non-spatial coordinates to <out>/<variable>/<file>_<variable>_<coord><value>.tif.
Tiles that already exist are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := dispatch.ParseMode(mode)
		if err != nil {
			return err
		}
		req := usecase.ConvertRequest{
			OutDir:     cfg.OutDir,
			Variables:  variables,
			BandField:  bandField,
			Wrap180:    wrap180,
			AOIPath:    aoiPath,
			Candidates: candidates(),
			Mode:       m,
			Workers:    cfg.Workers,
			Progress:   progress,
		}
		if cmd.Flags().Changed("nodata") {
			req.NoData = &nodata
		}
		if len(bounds) > 0 {
			if len(bounds) != 4 {
				return domain.Configf("--bounds needs 4 values, got %d", len(bounds))
			}
			req.Bounds = &aoi.Bounds{MinX: bounds[0], MinY: bounds[1], MaxX: bounds[2], MaxY: bounds[3]}
		}

		conv := usecase.NewConverter(cfg.Backend, geotiff.NewWriter())
		var failed int
		for _, arg := range args {
			results, err := conv.ConvertGlob(cmd.Context(), arg, req)
			for _, r := range results {
				glog.Infof("%s: %d written, %d skipped, %d failed", r.Input, r.Written, r.Skipped, r.Failed)
				failed += r.Failed
			}
			if err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d tiles failed", failed)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// dailyCmd runs the one-tile-per-day pipeline on a local file.
var dailyCmd = &cobra.Command{
	Use:   "daily <file>",
	Short: "Write one tile per day of a variable",
	Long: `daily writes one GeoTIFF per time step of --var, named by --pattern with
{variable}, {scenario}, {model}, {variant} and {date} (YYYY-MM-DD) filled in.
With --zip the tiles of every year are bundled into one archive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := dispatch.ParseMode(mode)
		if err != nil {
			return err
		}
		req := usecase.DailyRequest{
			Input:    args[0],
			Variable: variable,
			OutDir:   cfg.OutDir,
			Pattern:  pattern,
			Vars: map[string]string{
				"scenario": scenario,
				"model":    model,
				"variant":  variant,
			},
			Zip:        zipYears,
			Wrap180:    wrap180,
			Candidates: candidates(),
			Mode:       m,
			Workers:    cfg.Workers,
			Progress:   progress,
		}
		if cmd.Flags().Changed("nodata") {
			req.NoData = &nodata
		}
		conv := usecase.NewConverter(cfg.Backend, geotiff.NewWriter())
		res, err := conv.Daily(cmd.Context(), req)
		if err != nil {
			return err
		}
		glog.Infof("%s: %d written, %d skipped, %d failed, %d archives",
			res.Input, res.Written, res.Skipped, res.Failed, len(res.Archives))
		if res.Failed > 0 {
			return fmt.Errorf("%d tiles failed", res.Failed)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// cmip6Cmd downloads every file of a URL list and runs the daily pipeline
// on it.
var cmip6Cmd = &cobra.Command{
	Use:   "cmip6 <url list>",
	Short: "Download CMIP6 files and write daily tiles",
	Long: `cmip6 reads a CSV list of variable,scenario,model,variant,url lines,
downloads each file into $CACHE_DIR (retrying transient failures) and writes
its daily tiles. URLs finished by an earlier run are recorded in the registry
database and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := dispatch.ParseMode(mode)
		if err != nil {
			return err
		}
		entries, err := csv.LoadURLList(args[0])
		if err != nil {
			return err
		}
		csv.Shuffle(entries, seed)
		glog.Infof("%d urls in %s", len(entries), args[0])

		reg, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		f := fetch.New(cfg.CacheDir, fetch.Options{ErrorLog: cfg.ErrorLogPath, Progress: progress})
		conv := usecase.NewConverter(cfg.Backend, geotiff.NewWriter())
		p := usecase.NewPipeline(f, conv, reg)

		results, err := p.ProcessURLList(cmd.Context(), entries, usecase.URLListOptions{
			OutDir:       cfg.OutDir,
			Pattern:      pattern,
			Zip:          zipYears,
			RemoveSource: removeSource,
			Wrap180:      wrap180,
			Files:        files,
			TileWorkers:  cfg.Workers,
			Mode:         m,
			Progress:     progress,
		})
		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		glog.Infof("%d urls handled, %d failed, %d downloaded", len(results), failed, f.Downloads())
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d urls failed", failed)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// fetchCmd resolves one registered dataset file.
var fetchCmd = &cobra.Command{
	Use:   "fetch <dataset> <variable> <YYYY-MM-DD>",
	Short: "Fetch a registered dataset file into the cache",
	Long: `fetch prints the local path of the dataset file for the variable and
date, downloading it from the dataset's base_uri on first use. Datasets are
read from the TOML file named by $DATASETS_PATH.

With --list, fetch <dataset> prints the files already fetched for the dataset.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if listCached {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.ExactArgs(3)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.Open(cfg.RegistryPath)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		f := fetch.New(cfg.CacheDir, fetch.Options{ErrorLog: cfg.ErrorLogPath, Progress: progress})
		ff := usecase.NewFileFetcher(cfg, reg, f)
		if listCached {
			recs, err := ff.Cached(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Printf("%s\t%s\t%s\n", r.DateStr, r.VariableID, r.FilePath)
			}
			return nil
		}
		path, err := ff.Fetch(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
	DisableAutoGenTag: true,
}

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Describe a netCDF file",
	Long:  "info prints the axes, variables and resolved grid of a netCDF file as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := usecase.Describe(args[0], cfg.Backend)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
	DisableAutoGenTag: true,
}

var averageCmd = &cobra.Command{
	Use:   "average <glob>",
	Short: "Average rasters",
	Long: `average writes the pixel-wise mean of every raster matching the glob.
Pixels that are nodata in the first raster stay nodata.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := usecase.AverageRasters(geotiff.NewWriter(), args[0], target)
		if err != nil {
			return err
		}
		glog.Infof("wrote %s", path)
		return nil
	},
	DisableAutoGenTag: true,
}

var subtractCmd = &cobra.Command{
	Use:   "subtract <a> <b>",
	Short: "Subtract one raster from another",
	Long:  "subtract writes a - b. Pixels that are nodata in a stay nodata.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := usecase.SubtractRasters(geotiff.NewWriter(), args[0], args[1], target)
		if err != nil {
			return err
		}
		glog.Infof("wrote %s", path)
		return nil
	},
	DisableAutoGenTag: true,
}

// seriesCmd samples a variable at one point over time.
var seriesCmd = &cobra.Command{
	Use:   "series <file>",
	Short: "Print the time series of a variable at a point",
	Long: `series bilinearly samples --var at --lat/--lon for every time step and
prints date,value CSV on stdout. Summary statistics are logged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := usecase.Series(cmd.Context(), cfg.Backend, usecase.SeriesRequest{
			Input:      args[0],
			Variable:   variable,
			Lat:        lat,
			Lon:        lon,
			Candidates: candidates(),
		})
		if err != nil {
			return err
		}
		s := res.Summary
		glog.Infof("%s at (%g, %g): n=%d mean=%g std=%g min=%g max=%g p95=%g",
			res.Variable, lat, lon, s.Count, s.Mean, s.Std, s.Min, s.Max, s.P95)
		return csv.WriteSeries(os.Stdout, res.Variable, res.Points)
	},
	DisableAutoGenTag: true,
}

var renameCmd = &cobra.Command{
	Use:   "rename <dir glob>...",
	Short: "Change the date of date-prefixed files",
	Long: `rename lists files in the matching directories named <prefix>QL<YYYYMMDD>-<rest>
together with their name after replacing the date by --new-date. With --rename
the files are renamed. Nothing is renamed when any target would collide.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := usecase.PlanRenames(args, newDate)
		if err != nil {
			return err
		}
		for _, r := range plan {
			fmt.Printf("%s -> %s\n", r.From, filepath.Base(r.To))
		}
		if !apply {
			return nil
		}
		if err := usecase.ApplyRenames(plan); err != nil {
			return err
		}
		glog.Infof("renamed %d files", len(plan))
		return nil
	},
	DisableAutoGenTag: true,
}

// droughtCmd tabulates drought categories over an area of interest.
var droughtCmd = &cobra.Command{
	Use:   "drought <file>",
	Short: "Tabulate drought categories over an area of interest",
	Long: `drought counts, for the first time step of every month between --start and
--end, the pixels inside the --aoi polygons in each drought category (D0 to D4).
It writes <out>/drought_info_raw_<aoi>_<start>_<end>.csv with one row per month
and <out>/drought_info_by_year_<aoi>_<start>_<end>.csv with the number of months
per year in which extreme or exceptional drought covered at least 1/3, 1/2 and
2/3 of the area.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := usecase.Drought(cmd.Context(), cfg.Backend, usecase.DroughtRequest{
			Input:      args[0],
			Variable:   droughtVar,
			AOIPath:    aoiPath,
			Start:      startDate,
			End:        endDate,
			Candidates: candidates(),
		})
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(aoiPath), filepath.Ext(aoiPath)) + "_" + startDate + "_" + endDate
		monthly, yearly, err := res.WriteTables(cfg.OutDir, name)
		if err != nil {
			return err
		}
		glog.Infof("%d months over %d pixels written to %s and %s", len(res.Months), res.Pixels, monthly, yearly)
		return nil
	},
	DisableAutoGenTag: true,
}

func candidates() grid.Candidates {
	return grid.Candidates{X: xNames, Y: yNames}
}
