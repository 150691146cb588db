package store

// ddl is the relational layout of the property graph. Nodes and edges live in
// flat, id-indexed tables; edges reference endpoints by (label, node_id),
// never by row pointer, so graph-shaped data carries no ownership direction.
const ddl = `
-- Typed nodes. node_id is the stable domain identity, unique within a label.
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY,
    label TEXT NOT NULL,
    node_id TEXT NOT NULL,
    properties JSON NOT NULL DEFAULT '{}',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(label, node_id)
);

-- Typed directed edges, identified by the full endpoint 5-tuple.
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    rel_type TEXT NOT NULL,
    source_label TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_label TEXT NOT NULL,
    target_id TEXT NOT NULL,
    properties JSON NOT NULL DEFAULT '{}',
    UNIQUE(rel_type, source_label, source_id, target_label, target_id)
);

CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label);
CREATE INDEX IF NOT EXISTS idx_edges_type_source ON edges(rel_type, source_id);
CREATE INDEX IF NOT EXISTS idx_edges_type_target ON edges(rel_type, target_id);
`
