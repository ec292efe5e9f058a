package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/stratodb/strato/authority"
	"github.com/stratodb/strato/metacache"
	"github.com/stratodb/strato/pkg/config"
	"github.com/stratodb/strato/pkg/models/hashfunction"
	"github.com/stratodb/strato/pkg/models/locality"
	"github.com/stratodb/strato/pkg/models/tablet"
	"github.com/stratodb/strato/pkg/selector"
	"github.com/stratodb/strato/pkg/stratolog"
)

var (
	cfgPath string

	tableID  string
	tabletID string
	rawKey   string
	hashFn   string

	selfID     string
	cloudName  string
	regionName string
	zoneName   string
	policyName string
	excluded   []string

	seedPath string
)

var rootCmd = &cobra.Command{
	Use: "stratoctl --config `path-to-config`",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  false,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgPath != "" {
			if err := config.LoadClientCfg(cfgPath); err != nil {
				return err
			}
		}
		return stratolog.UpdateZeroLogLevel(config.ClientConfig().LogLevel)
	},
}

func newCache() (*metacache.LocationCache, error) {
	cfg := config.ClientConfig()
	auth, err := authority.NewAuthority(cfg.AuthorityKind, cfg.AuthorityEndpoints)
	if err != nil {
		return nil, err
	}
	return metacache.NewLocationCache(auth,
		metacache.WithFreshnessBound(cfg.FreshnessBoundDuration()),
		metacache.WithEvictionGrace(cfg.EvictionGraceDuration()),
		metacache.WithLookupBackoff(cfg.LookupBackoffDuration(), cfg.LookupRetries()),
	), nil
}

func clientLocality() locality.ClientLocality {
	cfg := config.ClientConfig()
	loc := cfg.Locality
	ret := locality.ClientLocality{
		SelfID: cfg.SelfIdentity(),
		Cloud:  loc.Cloud,
		Region: loc.Region,
		Zone:   loc.Zone,
	}
	if selfID != "" {
		ret.SelfID = selfID
	}
	if cloudName != "" {
		ret.Cloud = cloudName
	}
	if regionName != "" {
		ret.Region = regionName
	}
	if zoneName != "" {
		ret.Zone = zoneName
	}
	return ret
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "resolve a table key or tablet id to the replica a request should be sent to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := newCache()
		if err != nil {
			return err
		}
		policy, err := selector.PolicyByName(policyName)
		if err != nil {
			return err
		}
		hf, err := hashfunction.HashFunctionByName(hashFn)
		if err != nil {
			return err
		}

		var key []byte
		if rawKey != "" {
			if key, err = hashfunction.EncodePartitionKey(rawKey, hf); err != nil {
				return err
			}
		}

		excl := map[string]struct{}{}
		for _, id := range excluded {
			excl[id] = struct{}{}
		}

		reqID := uuid.NewString()
		stratolog.Zero.Debug().
			Str("request", reqID).
			Str("table", tableID).
			Str("tablet", tabletID).
			Msg("stratoctl: resolving")

		target, err := cache.Route(context.Background(), metacache.RouteRequest{
			TableID:  tableID,
			TabletID: tabletID,
			Key:      key,
			Locality: clientLocality(),
			Policy:   policy,
			Excluded: excl,
		})
		if err != nil {
			return err
		}

		fmt.Printf("tablet:\t%s (epoch %d)\n", target.TabletID, target.Epoch)
		fmt.Printf("target:\t%s at %s\n", target.ServerID, target.Addr)
		for i, f := range target.Fallbacks {
			fmt.Printf("fallback %d:\t%s\n", i+1, f.ServerID)
		}
		return nil
	},
}

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "fetch and print the cached tablet locations of a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := newCache()
		if err != nil {
			return err
		}
		if err := cache.EnsureFresh(context.Background(), tableID); err != nil {
			return err
		}

		for _, rec := range cache.Snapshot() {
			fmt.Printf("tablet %s [%q, %q) epoch %d\n",
				rec.ID, rec.Partition.StartKey, rec.Partition.EndKey, rec.Epoch)
			for _, r := range rec.Replicas {
				role := "follower"
				if r.Role == tablet.RoleLeader {
					role = "leader"
				}
				fmt.Printf("\t%s\t%s\n", r.ServerID, role)
			}
		}
		for _, ts := range cache.Directory() {
			fmt.Printf("server %s\n", ts)
		}
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "publish tablet locations from a yaml file into the etcd authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.ClientConfig()
		auth, err := authority.NewEtcdAuthority(cfg.AuthorityEndpoints)
		if err != nil {
			return err
		}
		defer func() { _ = auth.Close() }()

		raw, err := os.ReadFile(seedPath)
		if err != nil {
			return err
		}
		var locs []*authority.TabletLocations
		if err := yaml.Unmarshal(raw, &locs); err != nil {
			return err
		}

		for _, loc := range locs {
			if err := auth.SetTabletLocations(context.Background(), loc); err != nil {
				return err
			}
			fmt.Printf("seeded tablet %s of table %s\n", loc.TabletID, loc.TableID)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to the client config")

	resolveCmd.Flags().StringVar(&tableID, "table", "", "table to route for")
	resolveCmd.Flags().StringVar(&tabletID, "tablet", "", "tablet id to route for, instead of a key")
	resolveCmd.Flags().StringVar(&rawKey, "key", "", "primary key value")
	resolveCmd.Flags().StringVar(&hashFn, "hash", "", "partition hash function: identity, murmur or city")
	resolveCmd.Flags().StringVar(&selfID, "self", "", "caller's own server identity")
	resolveCmd.Flags().StringVar(&cloudName, "cloud", "", "caller cloud")
	resolveCmd.Flags().StringVar(&regionName, "region", "", "caller region")
	resolveCmd.Flags().StringVar(&zoneName, "zone", "", "caller zone")
	resolveCmd.Flags().StringVar(&policyName, "policy", "closest", "selection policy: closest, leader or any")
	resolveCmd.Flags().StringSliceVar(&excluded, "exclude", nil, "replica identities to exclude")
	rootCmd.AddCommand(resolveCmd)

	locationsCmd.Flags().StringVar(&tableID, "table", "", "table to list")
	rootCmd.AddCommand(locationsCmd)

	seedCmd.Flags().StringVar(&seedPath, "file", "", "yaml file with tablet locations")
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
