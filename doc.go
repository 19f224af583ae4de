/*
Package recdb implements an embedded, transactional, schema-typed record store
on top of a key-value store (in this case, on top of Bolt).

We implement:

1. Stores, collections of flat typed records identified by a composite primary key.

2. Indices, ordered composite keys used to plan filters without visiting every record.

3. Search indices, inverted token indices with ranked prefix matching.

4. Links, foreign-key relationships between stores, with referential integrity
enforced on insert and cascades on remove and vacate.

5. Queries, statically composed filters with per-call parameters.

All access goes through transactions. Reads queued back-to-back run concurrently,
writes are serialized and act as barriers for everything queued after them.

# Technical Details

**Buckets.**
Each store owns a root bucket holding its state document and nested buckets:
"data" for records, and one bucket per index ("i:a,b"), unique field ("u:a")
and search index ("s:a").

**Index ordinal.**
We assign a unique positive integer ordinal to each index of a store. These
values are never reused, even if an index is removed.

**Store states.**
We store a meta document per store, called “store state”. It holds the fields
the records were written with, the key, the ordinals of all indices, the record
count and a schema version that is bumped whenever the store's fingerprint changes.

## Binary encoding

**Key encoding.**
Every field value is encoded so that byte-wise comparison of encodings matches
the natural order of values. Encodings are prefix-free, so a composite key is
just the concatenation of its components.

  - null: 00; a non-null value of a nullable field is prefixed with 01
  - boolean: 00 or 01
  - integer: big-endian uint64 with the sign bit flipped
  - number: big-endian IEEE 754 bits, sign bit flipped for positives, all bits flipped for negatives
  - string, binary: bytes with 00 escaped as 00 FF, terminated by 00 01

**Value**: value header, then encoded data, then encoded index key records.

**Value header**:
 1. Flags (uvarint).
 2. Schema version (uvarint).
 3. Mod count (uvarint).
 4. Insertion sequence (uvarint).
 5. Data size (uvarint).
 6. Index size (uvarint).

**Value data**: msgpack array of field values, fields sorted by name.

**Index key records** (inside a value) record the keys contributed by this record.
If a record changes, we still need to know which index keys to delete, so we
store all index keys. Format:
 1. Number of entries (uvarint).
 2. For each entry: index ordinal (uvarint), key length (uvarint), key bytes.
*/
package recdb
