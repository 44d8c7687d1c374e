package safetensors_parser

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// _SafetensorsDefaultMaxConcurrency is the default limit of the shards read at the same time.
const _SafetensorsDefaultMaxConcurrency = 4

// ParseSafetensorsShards parses all shards related to the given local path,
// and returns the SafetensorsFiles in shard order, or an error if any.
//
// If the given path is not a shard, e.g. "model.safetensors",
// the returned SafetensorsFiles holds only that file.
func ParseSafetensorsShards(path string, opts ...SafetensorsReadOption) (SafetensorsFiles, error) {
	return parseSafetensorsShards(context.Background(), path, opts,
		func(_ context.Context, p string) (*SafetensorsFile, error) {
			return ParseSafetensorsFile(p, opts...)
		})
}

// ParseSafetensorsShardsRemote is similar to ParseSafetensorsShards,
// but reads all shards related to the given remote URL.
func ParseSafetensorsShardsRemote(ctx context.Context, url string, opts ...SafetensorsReadOption) (SafetensorsFiles, error) {
	var o _SafetensorsReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	cli := newSafetensorsHTTPClient(url, o)
	return parseSafetensorsShards(ctx, url, opts,
		func(ctx context.Context, u string) (*SafetensorsFile, error) {
			return parseSafetensorsFileFromRemote(ctx, cli, u, o)
		})
}

func parseSafetensorsShards(
	ctx context.Context,
	name string,
	opts []SafetensorsReadOption,
	parse func(ctx context.Context, name string) (*SafetensorsFile, error),
) (SafetensorsFiles, error) {
	o := _SafetensorsReadOptions{
		MaxConcurrency: _SafetensorsDefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}

	names := CompleteShardSafetensorsFilename(name)
	if names == nil {
		names = []string{name}
	}

	sfs := make(SafetensorsFiles, len(names))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.MaxConcurrency)
	for i := range names {
		i := i
		eg.Go(func() error {
			sf, err := parse(egCtx, names[i])
			if err != nil {
				return err
			}
			sfs[i] = sf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return sfs, nil
}
