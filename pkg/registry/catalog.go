package registry

var modelOrganisms = []string{"9606", "10090", "10116", "7955", "7227", "6239", "4932", "3702", "44689", "9031", "9913"}

// Default returns the built-in catalog.
func Default() *Registry {
	r := New()
	for _, s := range defaultSources() {
		if err := r.Add(s); err != nil {
			panic(err)
		}
	}
	return r
}

func defaultSources() []Source {
	return []Source{
		{
			ID:                "ncbi",
			Home:              "NCBI_geneinfo",
			Title:             "NCBI Gene info",
			Format:            FormatGeneInfo,
			Version:           "2024-06-01",
			License:           "public domain",
			Organisms:         modelOrganisms,
			URLTemplate:       "https://ftp.ncbi.nlm.nih.gov/gene/DATA/GENE_INFO/All_Data.gene_info.gz",
			CachePathTemplate: "NCBI_geneinfo",
			FilenameTemplate:  "gene_info.{taxid}.gz",
		},
		{
			ID:                "go",
			Home:              "geneontology",
			Title:             "Gene Ontology",
			Format:            FormatOBO,
			Version:           "2024-06-17",
			License:           "CC BY 4.0",
			URLTemplate:       "https://release.geneontology.org/{version}/ontology/go-basic.obo",
			CachePathTemplate: "geneontology/{version}",
			FilenameTemplate:  "gene_ontology_edit.obo.gz",
		},
		{
			ID:                "go_annotations",
			Home:              "geneontology",
			Title:             "GO annotations (GAF)",
			Format:            FormatGAF,
			Version:           "2024-06-17",
			License:           "CC BY 4.0",
			Organisms:         modelOrganisms,
			URLTemplate:       "https://release.geneontology.org/{version}/annotations/{idtag}-{orgcode}.gaf.gz",
			IDTag:             "goa",
			CachePathTemplate: "geneontology/{version}",
			FilenameTemplate:  "gene_association.{orgcode}.gz",
		},
		{
			ID:                "kegg",
			Home:              "KEGG",
			Title:             "KEGG gene list",
			Format:            FormatKEGGList,
			Version:           "110.0",
			License:           "KEGG academic",
			Organisms:         modelOrganisms,
			URLTemplate:       "https://rest.kegg.jp/list/{orgcode}",
			CachePathTemplate: "KEGG/{version}",
			FilenameTemplate:  "genes_{orgcode}.tsv",
		},
		{
			ID:                "dictybase",
			Home:              "dictyBase",
			Title:             "dictyBase gene information",
			Format:            FormatDictyBase,
			Version:           "2024-05",
			License:           "dictyBase terms of use",
			Organisms:         []string{"44689"},
			URLTemplate:       "http://dictybase.org/db/cgi-bin/dictyBase/download/download.pl?area=general&ID=gene_information.txt",
			CachePathTemplate: "dictyBase/{version}",
			FilenameTemplate:  "gene_information.txt",
		},
		{
			ID:                "ensembl",
			Home:              "Ensembl",
			Title:             "Ensembl BioMart gene ids",
			Format:            FormatEnsembl,
			Version:           "112",
			License:           "Apache 2.0",
			Organisms:         []string{"9606", "10090", "10116", "7955", "7227", "6239", "4932", "9031", "9913"},
			URLTemplate:       "s3://genekit-mirror/ensembl/{version}/{taxid}_genes.tsv.gz",
			CachePathTemplate: "Ensembl/{version}",
			FilenameTemplate:  "{taxid}_genes.tsv.gz",
		},
		{
			ID:                "affymetrix",
			Home:              "Affymetrix",
			Title:             "Affymetrix probe annotations",
			Format:            FormatAffymetrix,
			Version:           "na36",
			License:           "Affymetrix terms of use",
			Organisms:         []string{"9606", "10090"},
			IDTag:             "probeset",
			URLTemplate:       "s3://genekit-mirror/affymetrix/{version}/{orgcode}_{idtag}.csv.gz",
			CachePathTemplate: "Affymetrix/{version}",
			FilenameTemplate:  "{orgcode}_{idtag}.csv.gz",
		},
		{
			ID:                "gomapman",
			Home:              "gomapman",
			Title:             "GoMapMan ontology",
			Format:            FormatOBO,
			Version:           "2021-05",
			License:           "CC BY-NC-SA 4.0",
			URLTemplate:       "https://gomapman.nib.si/download/{version}/ontology.obo",
			CachePathTemplate: "gomapman/{version}/OBO",
			FilenameTemplate:  "ontology.obo",
		},
		{
			ID:                "gomapman_mappings",
			Home:              "gomapman",
			Title:             "GoMapMan gene mappings",
			Format:            FormatMapMan,
			Version:           "2021-05",
			License:           "CC BY-NC-SA 4.0",
			Organisms:         []string{"3702", "4113"},
			IDTag:             "ath",
			URLTemplate:       "https://gomapman.nib.si/download/{version}/{orgcode}_{idtag}_{version}_mapping.txt.gz",
			CachePathTemplate: "gomapman/{version}/mapman",
			FilenameTemplate:  "{orgcode}_{idtag}_{version}_mapping.txt.gz",
		},
		{
			ID:                "homologene",
			Home:              "HomoloGene",
			Title:             "NCBI HomoloGene",
			Format:            FormatHomoloGene,
			Version:           "68",
			License:           "public domain",
			URLTemplate:       "https://ftp.ncbi.nih.gov/pub/HomoloGene/build{version}/homologene.data",
			CachePathTemplate: "HomoloGene",
			FilenameTemplate:  "homologene.data",
		},
		{
			ID:                "inparanoid",
			Home:              "HomoloGene",
			Title:             "InParanoid ortholog clusters",
			Format:            FormatInParanoid,
			Version:           "8.0",
			License:           "CC BY 4.0",
			URLTemplate:       "https://inparanoidb.sbc.su.se/download/{version}/sqltables.tsv.gz",
			CachePathTemplate: "HomoloGene",
			FilenameTemplate:  "InParanoid.tsv.gz",
		},
	}
}
