package authority

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/pkg/errors"
	retry "github.com/sethvargo/go-retry"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stratodb/strato/pkg/models/stratoerror"
	"github.com/stratodb/strato/pkg/stratolog"
)

// EtcdAuthority reads tablet locations from etcd, where the cluster
// master publishes one JSON node per tablet.
type EtcdAuthority struct {
	cli *clientv3.Client
}

var _ Authority = &EtcdAuthority{}

const (
	tablesNamespace = "/strato/tables/"

	etcdDialTimeout = 3 * time.Second
)

func tableNodePath(tableID string) string {
	return path.Join(tablesNamespace, tableID, "tablets") + "/"
}

func tabletNodePath(tableID, tabletID string) string {
	return path.Join(tablesNamespace, tableID, "tablets", tabletID)
}

func NewEtcdAuthority(endpoints []string) (*EtcdAuthority, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to etcd authority")
	}

	stratolog.Zero.Debug().
		Strs("endpoints", endpoints).
		Uint("client", stratolog.GetPointer(cli)).
		Msg("etcdauthority: NewEtcdAuthority")

	return &EtcdAuthority{
		cli: cli,
	}, nil
}

func (q *EtcdAuthority) Close() error {
	return q.cli.Close()
}

func (q *EtcdAuthority) GetTableLocations(ctx context.Context, tableID string) ([]*TabletLocations, error) {
	stratolog.Zero.Debug().
		Str("table", tableID).
		Msg("etcdauthority: get table locations")

	var resp *clientv3.GetResponse
	if err := retry.Do(ctx, retry.WithMaxRetries(3, retry.NewFibonacci(100*time.Millisecond)), func(ctx context.Context) error {
		var err error
		resp, err = q.cli.Get(ctx, tableNodePath(tableID), clientv3.WithPrefix())
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if len(resp.Kvs) == 0 {
		return nil, stratoerror.Newf(stratoerror.STRT_TABLE_NOT_FOUND, "table \"%s\"", tableID)
	}

	ret := make([]*TabletLocations, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var loc TabletLocations
		if err := json.Unmarshal(kv.Value, &loc); err != nil {
			return nil, errors.Wrapf(err, "decode tablet locations at %s", kv.Key)
		}
		ret = append(ret, &loc)
	}

	stratolog.Zero.Debug().
		Str("table", tableID).
		Int("tablets", len(ret)).
		Msg("etcdauthority: got table locations")
	return ret, nil
}

// SetTabletLocations publishes the placement of one tablet. Exercised by
// masters and by stratoctl seed when bringing up a development cluster.
func (q *EtcdAuthority) SetTabletLocations(ctx context.Context, loc *TabletLocations) error {
	raw, err := json.Marshal(loc)
	if err != nil {
		return err
	}

	_, err = q.cli.Put(ctx, tabletNodePath(loc.TableID, loc.TabletID), string(raw))

	stratolog.Zero.Debug().
		Str("table", loc.TableID).
		Str("tablet", loc.TabletID).
		Err(err).
		Msg("etcdauthority: set tablet locations")
	return err
}

// DropTable removes every tablet node of a table.
func (q *EtcdAuthority) DropTable(ctx context.Context, tableID string) error {
	_, err := q.cli.Delete(ctx, tableNodePath(tableID), clientv3.WithPrefix())
	return err
}
