package cache

import (
	"context"
	"errors"
)

// Match 按给定的组顺序查找 path，返回第一个命中的条目。
// 与浏览器 CacheStorage.match 一致：先声明的组优先。
func Match(ctx context.Context, store Store, groups []string, path string) (*ReadResult, error) {
	if store == nil {
		return nil, ErrNotFound
	}
	for _, group := range groups {
		result, err := store.Get(ctx, Locator{Group: group, Path: path})
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNotFound
}
