// Package cache implements the content-addressed disk cache that backs the image
// proxy. Each blob lives at <CacheDir>/<sha256(key)><suffix> and is written with
// temp file + rename, so readers never observe partial files. An in-memory
// index mirrors the directory (name -> size, last access) together with a
// running byte total; it is persisted to .index.json in the background and
// rebuilt from a directory scan when that record is missing or corrupt. The
// evictor drops entries that have not been read within MaxAge and trims the
// least recently read entries whenever the total exceeds MaxBytes.
package cache
