package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	platform "github.com/constructa/listquery/internal/platform"
	"github.com/constructa/listquery/listing/models"
)

func newSchemaCmd(out io.Writer, opts *globalOptions) *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the entity schema",
	}

	schemaCmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Load a schema file and check its entities, labels and permissions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.schemaFile()
			if len(args) == 1 {
				path = args[0]
			}
			registry, _, err := platform.LoadSchema(path)
			if err != nil {
				return err
			}

			names := registry.Names()
			sort.Strings(names)
			fmt.Fprintf(out, "%s: %d entity types\n", path, len(names))
			for _, name := range names {
				entity, _ := registry.Get(name)
				fmt.Fprintf(out, "  - %s (%s, %d fields, %d collections)\n", name, entity.Table, len(entity.Fields), len(entity.Collections))
			}
			return nil
		},
	})
	return schemaCmd
}

type listFlags struct {
	fields       []string
	filters      string
	orderBy      string
	limit        int
	offset       int
	search       string
	searchTarget string
	itemSearch   bool
	pending      bool
	useCache     bool
	aggregates   string
	groupBy      string
}

func newListCmd(out io.Writer, opts *globalOptions, connect connectFunc) *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List records with their total count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}

			l, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer l.Close()

			resp, err := l.ListWithCount(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(out, opts.format, resp)
		},
	}

	cmd.Flags().StringSliceVar(&flags.fields, "fields", nil, "Fields to return")
	cmd.Flags().StringVar(&flags.filters, "filters", "", "Filters as JSON")
	cmd.Flags().StringVar(&flags.orderBy, "order-by", "", `Order, e.g. "modified desc"`)
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Page size")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "Page offset")
	cmd.Flags().StringVar(&flags.search, "search", "", "Search term")
	cmd.Flags().StringVar(&flags.searchTarget, "search-target", "", "Field or collection to search")
	cmd.Flags().BoolVar(&flags.itemSearch, "item-search", false, "Search collection items instead of the parent")
	cmd.Flags().BoolVar(&flags.pending, "pending", false, "Only records with pending items")
	cmd.Flags().BoolVar(&flags.useCache, "cache", false, "Allow a cached response")
	cmd.Flags().StringVar(&flags.aggregates, "aggregates", "", "Aggregate specs as a JSON array")
	cmd.Flags().StringVar(&flags.groupBy, "group-by", "", "Group-by spec as a JSON object")
	return cmd
}

func (f *listFlags) request(entity string) (*models.ListRequest, error) {
	req := &models.ListRequest{
		EntityType:          entity,
		Fields:              f.fields,
		OrderBy:             f.orderBy,
		Limit:               f.limit,
		Offset:              f.offset,
		SearchTerm:          f.search,
		SearchTargetField:   f.searchTarget,
		IsItemSearch:        f.itemSearch,
		RequirePendingItems: f.pending,
		UseCache:            f.useCache,
	}
	if f.filters != "" {
		req.Filters = json.RawMessage(f.filters)
	}
	if f.aggregates != "" {
		if err := json.Unmarshal([]byte(f.aggregates), &req.Aggregates); err != nil {
			return nil, fmt.Errorf("--aggregates: %w", err)
		}
	}
	if f.groupBy != "" {
		req.GroupBy = &models.GroupBySpec{}
		if err := json.Unmarshal([]byte(f.groupBy), req.GroupBy); err != nil {
			return nil, fmt.Errorf("--group-by: %w", err)
		}
	}
	return req, nil
}

func newFacetsCmd(out io.Writer, opts *globalOptions, connect connectFunc) *cobra.Command {
	req := &models.FacetRequest{}
	var filters string

	cmd := &cobra.Command{
		Use:   "facets <entity> <field>",
		Short: "Count the distinct values of a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.EntityType, req.Field = args[0], args[1]
			if filters != "" {
				req.Filters = json.RawMessage(filters)
			}

			l, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer l.Close()

			resp, err := l.FacetValues(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(out, opts.format, resp)
		},
	}

	cmd.Flags().StringVar(&filters, "filters", "", "Filters as JSON")
	cmd.Flags().StringVar(&req.SearchTerm, "search", "", "Search term")
	cmd.Flags().StringVar(&req.SearchTargetField, "search-target", "", "Field or collection to search")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "Maximum number of values")
	return cmd
}
